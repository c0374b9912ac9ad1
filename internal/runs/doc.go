// Package runs tracks filter and merge runs while they execute and keeps their
// history.
//
// Tracker holds the live status of every run as immutable snapshots behind a
// copy-on-write map, so concurrent readers always see a complete snapshot.
// Store persists snapshots to SQLite for the CLI's runs commands, and Runner
// launches engine runs in the background and lets callers wait for them.
package runs
