// Package httputil provides shared HTTP response/request utilities for the
// API handlers: JSON envelopes, error responses and body decoding.
package httputil
