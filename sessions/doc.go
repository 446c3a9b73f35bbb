// Package sessions owns the MCP session lifecycle: metadata negotiated at
// initialize time, the Uninitialized → Initializing → Ready → Closed state
// machine, and the SessionHost storage/messaging contract that lets the same
// manager run against the in-process host or a Redis-backed one.
//
// Concurrency model: the session table lives behind a SessionHost. Hosts keep
// per-session state behind fine-grained guards so that table operations never
// block unrelated sessions. The manager itself holds no per-session locks
// across blocking calls; LastAccess updates are last-write-wins.
package sessions
