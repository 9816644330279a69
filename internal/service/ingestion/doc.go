// Package ingestion turns raw mailbox messages into unconfirmed events.
//
// A scan runs each candidate message through typed stages: the cost-tiered
// Classifier (sender filter, domain filter, keyword heuristic, then an
// optional paid model call), the Extractor, draft validation and finally
// the admission Gate, which writes the events and the per-message
// IngestionRecord in one transaction. Every stage is usable on its own and
// none of them touches the network directly.
package ingestion
