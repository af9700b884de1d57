// Package provider builds the price-feed catalogue from configuration: the
// optional feeds YAML file, the inline chainlink settings and the static
// fallback value.
package provider
