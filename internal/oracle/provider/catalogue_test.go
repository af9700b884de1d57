package provider

import (
	"context"
	stdErrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"Evolve-Chain/internal/config"
	"Evolve-Chain/internal/oracle"
)

const feedsYAML = `feeds:
  eth-usd:
    rpc_url: https://rpc.example/eth
    address: "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"
    description: ETH / USD
  btc-usd:
    type: chainlink
    rpc_url: https://rpc.example/eth
    address: "0xF4030086522a5bEEa4988F8cA5B36dbC97BeE88c"
    max_staleness_seconds: 600
`

func writeFeeds(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feeds.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write feeds: %v", err)
	}
	return path
}

type dialRecorder struct {
	configs []oracle.ChainlinkConfig
	closed  int
}

func (d *dialRecorder) dial(_ context.Context, cfg oracle.ChainlinkConfig) (oracle.Oracle, func(), error) {
	d.configs = append(d.configs, cfg)
	value := decimal.NewFromInt(int64(len(d.configs)) * 1000)
	return oracle.NewStatic(value), func() { d.closed++ }, nil
}

func TestCatalogueLoadsFeedsAndCachesDials(t *testing.T) {
	rec := &dialRecorder{}
	cfg := config.OracleConfig{
		Driver:              "chainlink",
		FeedsFile:           writeFeeds(t, feedsYAML),
		StaticValue:         decimal.NewFromInt(42),
		MaxStalenessSeconds: 3600,
	}
	c, err := newCatalogue(cfg, rec.dial)
	if err != nil {
		t.Fatalf("new catalogue: %v", err)
	}

	feeds := c.Feeds()
	if len(feeds) != 3 || feeds[0].Name != "btc-usd" || feeds[1].Name != "eth-usd" || feeds[2].Kind != "static" {
		t.Fatalf("unexpected feeds: %+v", feeds)
	}

	first, err := c.Open(context.Background(), "btc-usd")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	again, err := c.Open(context.Background(), "btc-usd")
	if err != nil || first != again {
		t.Fatalf("open should be cached: %v", err)
	}
	if len(rec.configs) != 1 || rec.configs[0].MaxStaleness != 10*time.Minute {
		t.Fatalf("unexpected dial configs: %+v", rec.configs)
	}

	if _, err := c.Open(context.Background(), "eth-usd"); err != nil {
		t.Fatalf("open eth-usd: %v", err)
	}
	if rec.configs[1].MaxStaleness != time.Hour {
		t.Fatalf("feed without override should use the global staleness, got %s", rec.configs[1].MaxStaleness)
	}

	if _, err := c.Open(context.Background(), "doge-usd"); !stdErrors.Is(err, ErrUnknownFeed) {
		t.Fatalf("expected unknown feed, got %v", err)
	}

	c.Close()
	if rec.closed != 2 {
		t.Fatalf("expected 2 closers to run, got %d", rec.closed)
	}
}

func TestInitialFeedSelection(t *testing.T) {
	rec := &dialRecorder{}
	feeds := writeFeeds(t, feedsYAML)
	cases := []struct {
		name string
		cfg  config.OracleConfig
		want string
	}{
		{"static driver", config.OracleConfig{Driver: "static", StaticValue: decimal.NewFromInt(1)}, StaticFeed},
		{"named feed", config.OracleConfig{Driver: "chainlink", FeedsFile: feeds, Feed: "eth-usd"}, "eth-usd"},
		{"inline feed", config.OracleConfig{Driver: "chainlink", FeedsFile: feeds, RPCURL: "http://x", Address: "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"}, DefaultFeed},
		{"first feed", config.OracleConfig{Driver: "chainlink", FeedsFile: feeds, StaticValue: decimal.NewFromInt(1)}, "btc-usd"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := newCatalogue(tc.cfg, rec.dial)
			if err != nil {
				t.Fatalf("new catalogue: %v", err)
			}
			got, err := InitialFeed(tc.cfg, c)
			if err != nil || got != tc.want {
				t.Fatalf("initial feed = %q, %v; want %q", got, err, tc.want)
			}
		})
	}
}

func TestNewFromConfigStatic(t *testing.T) {
	c, name, o, err := NewFromConfig(context.Background(), config.OracleConfig{Driver: "static", StaticValue: decimal.NewFromInt(60000)})
	if err != nil {
		t.Fatalf("new from config: %v", err)
	}
	defer c.Close()
	if name != StaticFeed {
		t.Fatalf("unexpected feed %q", name)
	}
	signal, err := o.LatestSignal(context.Background())
	if err != nil || !signal.Value.Equal(decimal.NewFromInt(60000)) {
		t.Fatalf("unexpected signal %v, %v", signal, err)
	}
	if s, ok := c.Static(); !ok || s.Calls() != 1 {
		t.Fatalf("static oracle should be reachable through the catalogue")
	}
}

func TestCatalogueRejectsBadDefinitions(t *testing.T) {
	if _, err := newCatalogue(config.OracleConfig{Driver: "chainlink"}, (&dialRecorder{}).dial); err == nil {
		t.Fatalf("empty catalogue should be rejected")
	}
	path := writeFeeds(t, "feeds:\n  x:\n    type: pyth\n")
	if _, err := newCatalogue(config.OracleConfig{FeedsFile: path}, (&dialRecorder{}).dial); err == nil {
		t.Fatalf("unsupported feed type should be rejected")
	}
	if _, err := LoadFeedDefinitions(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("missing file should fail")
	}
}
