// Package registry records which assets have been minted and who owns them.
// It is the source of truth for asset existence; the evolution engine only
// reads from it.
package registry
