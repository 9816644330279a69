// Package recurrence expands a recurrence rule anchored on a date into the
// concrete dates of its instances.
//
// Expansion is pure: it reads no clock and touches no store. The anchor date
// belongs to the parent event and is never part of the result.
package recurrence
