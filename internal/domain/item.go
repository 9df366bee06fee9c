// Package domain defines the core entities of the price watcher (items, price
// samples, events), the store interfaces that persist them, and the pure
// policy functions (item-key derivation, hourly sample merging, effective
// price) that every storage backend must agree on.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ItemKeyLen is the length of the stable external item key in hex characters.
const ItemKeyLen = 12

// Item is a single watched product on a single storefront.
type Item struct {
	ID            int64
	Key           string // stable external identity, ItemKeyLen hex chars
	Name          string
	Store         string
	URL           string
	ThumbURL      string
	SearchKeyword string
	SearchCond    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ItemInput carries the observable attributes of an item as reported by an
// adapter. The key is derived, never supplied.
type ItemInput struct {
	Name          string
	Store         string
	URL           string
	ThumbURL      string
	SearchKeyword string
	SearchCond    string
}

// Key derives the stable item key for the input. URL-addressable items hash
// the URL alone; search-based items (no URL) hash store name and keyword
// together so the same keyword on two stores yields distinct keys. SearchCond
// is traceability data and never participates.
func (in ItemInput) Key() string {
	if in.URL != "" {
		return DeriveKey(in.URL)
	}
	return DeriveKey(in.Store + "|" + in.SearchKeyword)
}

// DeriveKey hashes s with SHA-256 and truncates to ItemKeyLen hex characters.
func DeriveKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:ItemKeyLen]
}

// EffectivePrice applies a per-store point rebate to a raw price:
// price × (1 − pointRate/100), truncated toward zero. Display-only; the
// stored history always carries the raw price.
func EffectivePrice(price int64, pointRate float64) int64 {
	if pointRate <= 0 {
		return price
	}
	return int64(float64(price) * (1 - pointRate/100))
}
