// Package broker owns the Order, Trade, Position and Account state machines
// behind one Broker interface, with a synchronous backtest implementation
// and a live implementation on top of a gateway.Trader.
package broker
