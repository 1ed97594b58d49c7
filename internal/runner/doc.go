// Package runner drives the bridge polling cycle: read bar (and optionally
// state) hashes, dispatch them to the strategy runtime, and replace the
// strategy's intent hash with what the cycle produced.
package runner
