// Package recurrence materializes the instances of a recurrence parent.
//
// Regeneration replaces every existing instance of a parent with a fresh
// expansion of its rule in one repository transaction, serialized per
// parent by a distributed lock. Running it twice with the same rule
// converges on the same instance dates.
package recurrence
