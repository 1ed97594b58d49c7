// Package gateway wraps the exchange gateway behind two adapter roles,
// MarketData and Trader, with asynchronous callback delivery.
//
// Two implementations exist: a websocket client for a CTP gateway sidecar
// (live mode) and a deterministic in-process simulation (fallback mode). A
// Factory built from configuration picks one at startup.
//
// Callbacks for one adapter are delivered by a single goroutine in the order
// the underlying events occurred. Order status callbacks pass through a
// sequencer that drops duplicates and causal regressions per client order id.
package gateway
