// Package config loads the evolvd configuration from a JSON file with
// EVOLVE_* environment overrides and fills in defaults for every section.
package config
