// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// CanonicalJSON renders v as JSON with object keys sorted and no insignificant
// whitespace, so that equal JSON values always yield equal bytes (spec §8,
// "Canonical JSON of equal JSON values yields equal bytes → equal keys").
func CanonicalJSON(v any) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

// normalize walks a decoded JSON value (as produced by json.Unmarshal into
// any, or a plain Go map/slice tree) and returns an equivalent value whose
// maps are replaced with order-preserving sorted pairs via encoding trick:
// since Go's encoding/json already sorts map[string]any keys when marshaling,
// normalize only needs to round-trip through json to collapse custom types
// (structs, time.Time, etc.) into the map/slice/scalar shapes json.Marshal
// treats uniformly.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// IdempotencyKey computes the SHA-256 hex digest of backend, tool, and the
// canonical JSON of args, joined by NUL bytes as documented in spec §3's
// cache-entry key format: SHA-256(backend || 0 || tool || 0 || canonical_json(args)).
func IdempotencyKey(backend, tool string, args map[string]any) (string, error) {
	canon, err := CanonicalJSON(args)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(backend))
	h.Write([]byte{0})
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}
