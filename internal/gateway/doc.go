// Package gateway serves the presentation process from inside the host.
//
// A Gateway owns the host end of a protocol.Channel. It answers request
// envelopes through a Registry of typed handlers (exactly one response per
// request), pushes host-initiated parent commands through Parent, and writes
// a liveness pulse on a fixed interval. The first failed write to the remote
// side runs the cleanup path once; there is no reconnect.
package gateway
