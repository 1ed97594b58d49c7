// Package queue provides the unbounded FIFO used to hand work from producer
// goroutines (gateway I/O, broker callers) to exactly one consumer goroutine.
//
// Serializing through one consumer is how the gateway keeps callbacks in causal
// order and how the live broker keeps order/position mutation single-threaded.
package queue
