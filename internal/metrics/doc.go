// Package metrics provides Prometheus metrics for the bridge runtime.
//
// Key metrics:
//   - Runner cycles, intents and decode failures
//   - Order submissions, status changes and trades
//   - Strategy handler failures
//   - Chain integrity counts (state keys, intents, order keys)
package metrics
