package provider

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FeedDefinitions models the structure of configs/feeds.yaml.
type FeedDefinitions struct {
	Feeds map[string]FeedDefinition `yaml:"feeds"`
}

// FeedDefinition describes a single AggregatorV3 price feed.
type FeedDefinition struct {
	Type                string `yaml:"type"`
	RPCURL              string `yaml:"rpc_url"`
	Address             string `yaml:"address"`
	Description         string `yaml:"description"`
	MaxStalenessSeconds int64  `yaml:"max_staleness_seconds"`
}

// LoadFeedDefinitions parses the YAML file containing feed metadata. An empty
// path yields an empty catalogue.
func LoadFeedDefinitions(path string) (FeedDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return FeedDefinitions{Feeds: map[string]FeedDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return FeedDefinitions{}, fmt.Errorf("读取价格源配置失败: %w", err)
	}

	var defs FeedDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return FeedDefinitions{}, fmt.Errorf("解析价格源配置失败: %w", err)
	}
	if defs.Feeds == nil {
		defs.Feeds = map[string]FeedDefinition{}
	}
	return defs, nil
}
