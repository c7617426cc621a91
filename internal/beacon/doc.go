// Package beacon implements the default UDP discovery backend: one
// Beacon[R] instance per record type, broadcasting announce/withdraw/query
// datagrams on a fixed port and re-announcing everything it holds on a
// ~1s heartbeat.
//
// spec.md explicitly scopes the beacon's wire format and timing out of the
// core contract — transport.Discovery[R] is the only thing the runtime
// depends on — so this package is one swappable implementation of that
// interface, not part of the protocol the core cares about.
package beacon
