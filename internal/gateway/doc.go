// Package gateway defines the connection contract between a host process
// and the applications it serves: a read-only per-connection [Scope], a
// tagged [Event] for each message in either direction, and the
// receive/send halves of the duplex channel a [Handler] runs over.
//
// Events form a closed set per direction so dispatch is an exhaustive
// type switch rather than open-ended string matching. The wire tag for
// each event (e.g. "lifespan.startup.complete") is fixed by the protocol
// and exposed via [Event.Kind].
package gateway
