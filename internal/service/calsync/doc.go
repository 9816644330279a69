// Package calsync keeps the event store and a family's external calendar in
// step.
//
// Push operations mirror confirmed events outward and record the external
// id; pull reconciliation folds external changes back in, matching by
// external id only. The target calendar is resolved by name once, then
// stored and used by id.
//
// Per event state: unsynced (no external id) → synced → stale (edited after
// the last sync) → synced. An external copy that vanished sends the event
// back to unsynced before it is recreated.
package calsync
