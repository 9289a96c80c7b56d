package service

// Package service hosts a named service on the shared Redis backend and
// keeps it running.
//
// Overview
// A Runtime wraps one Service value. It owns the connection, the service's
// presence record, its dispatch table and a background consumer receiving
// commands and subscribed messages. The Supervisor builds a fresh Service
// and Runtime per attempt and restarts them after any failure.
//
// Lifecycle of a Runtime:
//
//   Created --Connect--> Connected --Install--> Running <--Pause/Resume--> Paused
//                                                  |
//                                              Uninstall
//                                                  v
//                                             Uninstalled --Close--> closed
//
// Data flow:
//
//   Supervisor          Runtime                 consumer goroutine        Redis
//       |                  |                          |                     |
//   Connect -------------->| SET names/<name> EX ttl -------------------->  |
//       |                  | PSUBSCRIBE <name>/command* ----------------->  |
//   Install -------------->| start ------------------>|                     |
//       |                  |                          |<--- pmessage -------|
//       |                  |<--- DispatchCommand -----|                     |
//       |                  |                          |--- EXPIRE names/* ->|
//   Tick (every 10ms) ---->| OnUpdate while enabled   |                     |
//       |<-- false --------| after shutdown command   |                     |
//   Uninstall ------------>| cancel + join ---------->|                     |
//
// Invariants:
//   - At most one consumer goroutine per Runtime.
//   - Commands are dispatched one at a time in arrival order.
//   - A paused service keeps refreshing its presence record.
//   - A handler panic ends the attempt; a handler error is only logged.
//   - A crashed attempt leaves its presence record to expire.
//
// internal/service/runtime_test.go is the best source about how to host a
// Service by hand.
