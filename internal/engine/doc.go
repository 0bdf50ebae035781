// Package engine coordinates request/response calls with push-channel events.
//
// The Orchestrator implements optimistic-write-then-reconcile semantics: a
// sent user message is echoed locally before the server confirms and rolled
// back if the send fails, while the assistant's reply arrives exclusively over
// the push channel. Deduplication by message id in the store makes any double
// delivery harmless, but by design each turn has exactly one delivery path.
//
// Request/response completions are matched against the session active at
// resolution time; a history fetch that resolves after the user switched
// sessions is discarded rather than applied to the wrong conversation.
package engine
