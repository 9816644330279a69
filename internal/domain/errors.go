package domain

import "errors"

// Shared sentinels. Repositories return ErrNotFound for missing rows and
// service packages re-export both so callers never import storage details.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// ItemError is one failed unit inside a batch (a message in a scan, an
// event in a sync). Batches collect these instead of aborting.
type ItemError struct {
	ItemID string `json:"item_id"`
	Op     string `json:"op"`
	Error  string `json:"error"`
}

// NewItemError builds an ItemError from err.
func NewItemError(itemID, op string, err error) ItemError {
	return ItemError{ItemID: itemID, Op: op, Error: err.Error()}
}
