// Package event implements the event lifecycle: manual creation, edits,
// confirmation of extracted drafts and deletion.
//
// Every change that affects a recurrence parent regenerates its instances,
// and every change to a confirmed event is mirrored to the family's external
// calendar. A failed push never fails the operation; the event stays
// unsynced and the periodic re-sync picks it up.
//
// Repository implementations live in repository/postgres/.
package event
