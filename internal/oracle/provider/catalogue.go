package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"Evolve-Chain/internal/config"
	xerrors "Evolve-Chain/internal/errors"
	"Evolve-Chain/internal/oracle"
)

const (
	// StaticFeed names the fixed-value oracle built from static_value.
	StaticFeed = "static"
	// DefaultFeed names the feed built from the inline rpc_url and address.
	DefaultFeed = "default"
)

// ErrUnknownFeed is returned when a feed name is not in the catalogue.
var ErrUnknownFeed = xerrors.New(xerrors.CodeNotFound, "unknown price feed")

type dialFunc func(ctx context.Context, cfg oracle.ChainlinkConfig) (oracle.Oracle, func(), error)

func dialChainlink(ctx context.Context, cfg oracle.ChainlinkConfig) (oracle.Oracle, func(), error) {
	feed, err := oracle.DialChainlinkFeed(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return feed, feed.Close, nil
}

type entry struct {
	description string
	static      oracle.Oracle
	chainlink   oracle.ChainlinkConfig
}

// Catalogue manages the set of oracles an operator may switch between, keyed
// by feed name. Chainlink feeds are dialled on first use and cached.
type Catalogue struct {
	mu      sync.Mutex
	entries map[string]entry
	open    map[string]oracle.Oracle
	closers []func()
	dial    dialFunc
}

// Feed summarises one catalogue entry.
type Feed struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
}

// NewCatalogue loads feed definitions and the inline oracle settings.
func NewCatalogue(cfg config.OracleConfig) (*Catalogue, error) {
	return newCatalogue(cfg, dialChainlink)
}

func newCatalogue(cfg config.OracleConfig, dial dialFunc) (*Catalogue, error) {
	defs, err := LoadFeedDefinitions(cfg.FeedsFile)
	if err != nil {
		return nil, err
	}

	c := &Catalogue{
		entries: make(map[string]entry),
		open:    make(map[string]oracle.Oracle),
		dial:    dial,
	}
	for name, def := range defs.Feeds {
		kind := strings.ToLower(strings.TrimSpace(def.Type))
		if kind != "" && kind != "chainlink" {
			return nil, fmt.Errorf("价格源 %s 使用了不支持的类型 %s", name, def.Type)
		}
		staleness := cfg.MaxStaleness()
		if def.MaxStalenessSeconds > 0 {
			staleness = time.Duration(def.MaxStalenessSeconds) * time.Second
		}
		c.entries[name] = entry{
			description: def.Description,
			chainlink: oracle.ChainlinkConfig{
				Name:         name,
				RPCURL:       def.RPCURL,
				Address:      def.Address,
				MaxStaleness: staleness,
			},
		}
	}

	if cfg.StaticValue.IsPositive() {
		c.entries[StaticFeed] = entry{
			description: "fixed value " + cfg.StaticValue.String(),
			static:      oracle.NewStatic(cfg.StaticValue),
		}
	}
	if strings.TrimSpace(cfg.RPCURL) != "" && strings.TrimSpace(cfg.Address) != "" {
		c.entries[DefaultFeed] = entry{
			description: "inline feed " + cfg.Address,
			chainlink: oracle.ChainlinkConfig{
				Name:         DefaultFeed,
				RPCURL:       cfg.RPCURL,
				Address:      cfg.Address,
				MaxStaleness: cfg.MaxStaleness(),
			},
		}
	}

	if len(c.entries) == 0 {
		return nil, errors.New("未配置任何价格源")
	}
	return c, nil
}

// Feeds lists the catalogue in name order.
func (c *Catalogue) Feeds() []Feed {
	c.mu.Lock()
	defer c.mu.Unlock()
	feeds := make([]Feed, 0, len(c.entries))
	for name, e := range c.entries {
		kind := "chainlink"
		if e.static != nil {
			kind = "static"
		}
		feeds = append(feeds, Feed{Name: name, Kind: kind, Description: e.description})
	}
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].Name < feeds[j].Name })
	return feeds
}

// Open returns the instrumented oracle for name, dialling it if needed.
func (c *Catalogue) Open(ctx context.Context, name string) (oracle.Oracle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if o, ok := c.open[name]; ok {
		return o, nil
	}
	e, ok := c.entries[name]
	if !ok {
		return nil, xerrors.Wrap(xerrors.CodeNotFound, ErrUnknownFeed, fmt.Sprintf("feed %q", name))
	}

	var source oracle.Oracle
	if e.static != nil {
		source = e.static
	} else {
		dialled, closer, err := c.dial(ctx, e.chainlink)
		if err != nil {
			return nil, fmt.Errorf("初始化价格源 %s 失败: %w", name, err)
		}
		if closer != nil {
			c.closers = append(c.closers, closer)
		}
		source = dialled
	}
	o := oracle.Instrumented(name, source)
	c.open[name] = o
	return o, nil
}

// Static returns the fixed-value oracle if one is configured.
func (c *Catalogue) Static() (*oracle.Static, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[StaticFeed]
	if !ok {
		return nil, false
	}
	s, ok := e.static.(*oracle.Static)
	return s, ok
}

// Close releases every dialled RPC connection.
func (c *Catalogue) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, closer := range c.closers {
		closer()
	}
	c.closers = nil
	c.open = make(map[string]oracle.Oracle)
}

// InitialFeed picks the feed selected by configuration: the static oracle for
// the static driver, otherwise the named feed, the inline feed, or the first
// catalogue entry in name order.
func InitialFeed(cfg config.OracleConfig, c *Catalogue) (string, error) {
	if cfg.Driver == "static" {
		return StaticFeed, nil
	}
	if cfg.Feed != "" {
		return cfg.Feed, nil
	}
	c.mu.Lock()
	_, hasDefault := c.entries[DefaultFeed]
	c.mu.Unlock()
	if hasDefault {
		return DefaultFeed, nil
	}
	for _, feed := range c.Feeds() {
		if feed.Kind == "chainlink" {
			return feed.Name, nil
		}
	}
	return "", errors.New("没有可用的 chainlink 价格源")
}

// NewFromConfig builds the catalogue and opens the configured initial oracle.
func NewFromConfig(ctx context.Context, cfg config.OracleConfig) (*Catalogue, string, oracle.Oracle, error) {
	c, err := NewCatalogue(cfg)
	if err != nil {
		return nil, "", nil, err
	}
	name, err := InitialFeed(cfg, c)
	if err != nil {
		c.Close()
		return nil, "", nil, err
	}
	o, err := c.Open(ctx, name)
	if err != nil {
		c.Close()
		return nil, "", nil, err
	}
	return c, name, o, nil
}
