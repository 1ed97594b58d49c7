// Package bridge implements the key layout and field encoding shared with the
// native trading engine over a hash-oriented store (Redis in production).
//
// Key namespaces, with prefix p (default "bridge"):
//
//	p:bar:{strategy}:{instrument}     latest bar hash written by the engine
//	p:state:{instrument}              seven factor fields plus ts_ns
//	p:intent:{strategy}               count + intent_{i}, written only by the runner
//	p:order:{strategy}:{client_order} order event mirror
//
// Field names and the pipe-delimited intent record are a compatibility contract
// with the engine. Changing them requires bumping ProtocolVersion.
package bridge
