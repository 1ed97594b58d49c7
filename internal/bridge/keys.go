package bridge

import "strings"

// ProtocolVersion identifies the field layout below.
const ProtocolVersion = 1

// DefaultPrefix is used when Keys is built with an empty prefix.
const DefaultPrefix = "bridge"

// Keys builds store keys for one prefix.
type Keys struct {
	prefix string
}

// NewKeys returns a key builder. An empty prefix means DefaultPrefix.
func NewKeys(prefix string) Keys {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Keys{prefix: prefix}
}

// Prefix returns the key prefix.
func (k Keys) Prefix() string { return k.prefix }

// Bar returns the bar key for a strategy and instrument.
func (k Keys) Bar(strategyID, instrumentID string) string {
	return k.join("bar", strategyID, instrumentID)
}

// State returns the state snapshot key for an instrument.
func (k Keys) State(instrumentID string) string {
	return k.join("state", instrumentID)
}

// Intent returns the intent key for a strategy.
func (k Keys) Intent(strategyID string) string {
	return k.join("intent", strategyID)
}

// Order returns the order mirror key for one client order id.
func (k Keys) Order(strategyID, clientOrderID string) string {
	return k.join("order", strategyID, clientOrderID)
}

// StatePattern matches every state key.
func (k Keys) StatePattern() string {
	return k.join("state", "*")
}

// OrderPattern matches every order key of a strategy.
func (k Keys) OrderPattern(strategyID string) string {
	return k.join("order", strategyID, "*")
}

func (k Keys) join(parts ...string) string {
	return k.prefix + ":" + strings.Join(parts, ":")
}
