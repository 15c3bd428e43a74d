// Package shadow implements the read-path shadow comparator used to
// stage cutovers: a configured read-only method additionally runs a
// second "legacy" computation of the same answer, the two serialized
// results are diffed, and any divergence is logged. The caller always
// gets the primary result; shadow execution can never change the
// response or its latency (it runs off the request's goroutine).
package shadow

import (
	"encoding/json"
	"log/slog"
)

// Compare runs primary synchronously and returns its result. When
// enabled and legacy is non-nil, it additionally runs legacy on a
// separate goroutine and logs a warning if its serialized output
// disagrees with primary's (or if legacy itself errors).
func Compare(enabled bool, method string, primary func() (interface{}, error), legacy func() (interface{}, error)) (interface{}, error) {
	result, err := primary()
	if !enabled || legacy == nil {
		return result, err
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Warn("shadow.panic", "method", method, "panic", r)
			}
		}()

		legacyResult, legacyErr := legacy()
		if legacyErr != nil {
			slog.Warn("shadow.legacy_error", "method", method, "error", legacyErr)
			return
		}
		if err != nil {
			// Primary itself failed; nothing meaningful to diff.
			return
		}

		primaryJSON, _ := json.Marshal(result)
		legacyJSON, _ := json.Marshal(legacyResult)
		if string(primaryJSON) != string(legacyJSON) {
			slog.Warn("shadow.divergence", "method", method,
				"primary", string(primaryJSON), "legacy", string(legacyJSON))
		}
	}()

	return result, err
}
