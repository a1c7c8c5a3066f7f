// Package convoflow is a conversational finite-state-machine engine:
// declarative flows drive sessions through states whose entry actions
// speak, ask, transfer, hang up or invoke tools, with every step
// recorded in an append-only per-session event log.
package convoflow

// Version is the current release.
const Version = "0.1.0"
