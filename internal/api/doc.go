// Package api exposes the evolution engine over HTTP: minting, evaluation,
// read-only queries, admin overrides and policy management, plus health and
// Prometheus endpoints.
package api
