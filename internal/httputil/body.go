// Package httputil provides helpers for reading HTTP payloads safely.
package httputil

import (
	"errors"
	"io"
)

const (
	// DefaultMaxBodyBytes caps request and upstream bodies to 10MB.
	// Large documents fit comfortably below it.
	DefaultMaxBodyBytes int64 = 10 * 1024 * 1024
)

// ErrBodyTooLarge is returned when a body exceeds the configured cap.
var ErrBodyTooLarge = errors.New("body too large")

// ReadLimitedBody reads up to maxBytes from reader. When the body is longer
// it returns the first maxBytes together with ErrBodyTooLarge.
func ReadLimitedBody(reader io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(reader)
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return body, err
	}
	if int64(len(body)) > maxBytes {
		return body[:int(maxBytes)], ErrBodyTooLarge
	}
	return body, nil
}
