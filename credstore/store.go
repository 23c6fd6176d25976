// Package credstore implements the three credential backends (§4.5):
// file, OS keyring, and in-memory, behind one Store interface, plus
// masking and API-key format validation.
package credstore

import (
	"encoding/json"
	"errors"
)

// ErrNotFound is returned by Get when no credential exists for the
// given provider id.
var ErrNotFound = errors.New("credential not found")

// Record is the opaque per-provider credential payload (§3 Credential
// record). Exactly one shape applies per provider family; unused fields
// stay zero.
type Record struct {
	// API-key family.
	APIKey string `json:"api_key,omitempty"`
	Host   string `json:"host,omitempty"`
	OrgID  string `json:"org_id,omitempty"`
	Model  string `json:"model,omitempty"`

	// OAuth family.
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"` // RFC3339 UTC
	Scope        string `json:"scope,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`

	// Device-code family.
	VendorToken  string `json:"vendor_token,omitempty"`
	DerivedToken string `json:"derived_token,omitempty"`
	DerivedExpiry string `json:"derived_expiry,omitempty"`
}

// Equal reports field-for-field equality, used by the store round-trip
// property test (§8).
func (r Record) Equal(other Record) bool {
	a, _ := json.Marshal(r)
	b, _ := json.Marshal(other)
	return string(a) == string(b)
}

// Store is the interface every backend implements over the key space
// {provider_id}. Credentials are owned exclusively by the store; no
// other package persists them.
type Store interface {
	Get(providerID string) (Record, error)
	Set(providerID string, rec Record) error
	Delete(providerID string) error
	List() ([]string, error)
}
