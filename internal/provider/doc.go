// Package provider defines the capabilities the sync engine needs from the
// outside world: a mailbox to read candidate messages from and a calendar to
// mirror events into. Concrete adapters (gmail, gcal, rsssource) live in
// their own packages and translate transport failures into the error
// taxonomy declared here.
package provider
