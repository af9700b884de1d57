// Package evolution implements the asset evolution state machine. Every
// registered asset owns a record holding a level in [MinLevel, MaxLevel]
// that moves one step up or down when the sampled price signal crosses the
// policy thresholds, at most once per cooldown window. Records live in an
// arena keyed by asset ID; each record has its own lock so evaluations of
// different assets never contend.
package evolution
