// Package strategy holds the registry of strategy instances and fans bars,
// state snapshots and order events out to them in registration order.
package strategy
