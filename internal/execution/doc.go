// Package execution connects the runner to a broker: intents become orders,
// and broker callbacks become order events for strategies, the bridge order
// keys and the journal.
package execution
