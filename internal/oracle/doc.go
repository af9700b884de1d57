// Package oracle supplies the external price signal consulted by the
// evolution engine. It defines the Oracle capability, a Chainlink
// AggregatorV3 reader built on go-ethereum, a static oracle for dry runs and
// tests, and decorators that impose deadlines and record metrics. The
// provider subpackage assembles the configured feed.
package oracle
