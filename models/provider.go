package models

// ProviderKind distinguishes the two provider pools that receive offers.
type ProviderKind string

const (
	ProviderKindPharmacy ProviderKind = "pharmacy"
	ProviderKindCourier  ProviderKind = "courier"
)

// Provider represents a pharmacy or delivery partner that can accept offers.
// Location fields are nullable: a provider that has never reported a position
// (or whose report is stale) is excluded from candidate selection.
type Provider struct {
	ID         int64        `db:"id" json:"id"`
	Name       string       `db:"name" json:"name"`
	Kind       ProviderKind `db:"kind" json:"kind"`
	Lat        *float64     `db:"lat" json:"lat,omitempty"`
	Lng        *float64     `db:"lng" json:"lng,omitempty"`
	LocationAt *int64       `db:"location_at" json:"location_at,omitempty"` // unix seconds of last heartbeat
	Available  bool         `db:"available" json:"available"`
	Verified   bool         `db:"verified" json:"verified"`
}
