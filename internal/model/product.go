package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ProductStatus is the lifecycle status the ledger reports for a product.
type ProductStatus string

const (
	StatusRegistered ProductStatus = "registered"
	StatusInTransit  ProductStatus = "in_transit"
	StatusAtRetailer ProductStatus = "at_retailer"
	StatusSold       ProductStatus = "sold"
	StatusDisputed   ProductStatus = "disputed"
)

// productStatusCodes follows the contract's enum ordering.
var productStatusCodes = []ProductStatus{
	StatusRegistered,
	StatusInTransit,
	StatusAtRetailer,
	StatusSold,
	StatusDisputed,
}

// ProductStatusFromCode maps the contract's numeric status enum.
func ProductStatusFromCode(code int) (ProductStatus, error) {
	if code < 0 || code >= len(productStatusCodes) {
		return "", eris.Errorf("model: unknown product status code %d", code)
	}
	return productStatusCodes[code], nil
}

// ParseProductStatus accepts the snake_case name or the contract's
// CamelCase name ("AtRetailer").
func ParseProductStatus(s string) (ProductStatus, error) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	for _, st := range productStatusCodes {
		if strings.ReplaceAll(string(st), "_", "") == key {
			return st, nil
		}
	}
	return "", eris.Errorf("model: unknown product status %q", s)
}

// DisputeStatus is the resolution state of a dispute record.
type DisputeStatus string

const (
	DisputeOpen      DisputeStatus = "open"
	DisputeUpheld    DisputeStatus = "upheld"
	DisputeDismissed DisputeStatus = "dismissed"
)

// Valid reports whether s is a known dispute status. The empty status is
// treated as open by the normalizer and is valid.
func (s DisputeStatus) Valid() bool {
	switch s {
	case "", DisputeOpen, DisputeUpheld, DisputeDismissed:
		return true
	}
	return false
}

// UnknownDisputeStatus is the placeholder status carried by a record whose
// code did not map; the normalizer drops such records.
func UnknownDisputeStatus(code int) DisputeStatus {
	return DisputeStatus(fmt.Sprintf("unknown(%d)", code))
}

// DisputeStatusFromCode maps the contract's numeric dispute status enum.
func DisputeStatusFromCode(code int) (DisputeStatus, error) {
	switch code {
	case 0:
		return DisputeOpen, nil
	case 1:
		return DisputeUpheld, nil
	case 2:
		return DisputeDismissed, nil
	default:
		return "", eris.Errorf("model: unknown dispute status code %d", code)
	}
}

// ProductSnapshot is the point-in-time state of one product.
type ProductSnapshot struct {
	ProductID    string        `json:"product_id"`
	Manufacturer string        `json:"manufacturer"`
	CurrentOwner string        `json:"current_owner"`
	Status       ProductStatus `json:"status"`
	RegisteredAt time.Time     `json:"registered_at"`
	MetadataURI  string        `json:"metadata_uri,omitempty"`
}

// SnapshotFromRecord builds a snapshot from a getProduct result. The record
// must exist; a zero registration time is kept as the zero time.
func SnapshotFromRecord(r *ProductRecord) (*ProductSnapshot, error) {
	if r == nil || !r.Exists {
		return nil, ErrNotFound
	}
	snap := &ProductSnapshot{
		ProductID:    r.ProductID,
		Manufacturer: r.Manufacturer,
		CurrentOwner: r.CurrentOwner,
		Status:       r.Status,
		MetadataURI:  r.MetadataURI,
	}
	if r.RegisteredAt > 0 {
		snap.RegisteredAt = time.Unix(r.RegisteredAt, 0).UTC()
	}
	return snap, nil
}
