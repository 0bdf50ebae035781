// Package conn owns the push-channel connection lifecycle.
//
// # Overview
//
// A single Manager instance maintains one logical connection to the backend's
// push endpoint, recovering from drops with exponential backoff. The state
// machine is explicit:
//
//	Disconnected → Connecting          explicit Connect
//	Connecting   → Connected           transport established
//	Connecting   → Reconnecting        dial failed
//	Connected    → Reconnecting        transport error / server disconnect
//	Reconnecting → Connecting          scheduled retry fires
//	Reconnecting → Failed              retry budget exhausted
//	Connected    → Disconnected        explicit Disconnect
//
// Failed is terminal until an explicit Connect re-enters Connecting.
//
// # Backoff
//
// Retry delay is min(base << attempt, cap), attempt counted per consecutive
// failure and reset to zero on a successful connect. At most one retry timer
// is pending at a time. Timers go through the Scheduler interface so tests can
// drive the machine without real time.
//
// # Events
//
// Every state transition is observable. Subscribers receive a tagged Event
// stream (Connected, Disconnected, Reconnecting, Failed) interleaved with
// inbound Frame events carrying raw push-channel payloads.
package conn
