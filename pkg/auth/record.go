package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/myt-tools/myt/pkg/cache"
)

// SessionRecord holds the tokens and identity claims issued by a completed
// login or refresh. Records are replaced wholesale after a renewal, never
// partially updated.
//
// RefreshToken is absent on a very first login until the provider issues one;
// a record without it forces a full interactive login on next expiry.
type SessionRecord struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	// UUID is derived from the id_token claims; see DecodeIdentity for why
	// the token signature is not verified.
	UUID       string    `json:"uuid"`
	Expiration time.Time `json:"expiration"`

	// Provider-issued fields passed through as-is. TokenID is the SSO
	// directory session identifier, still required by the legacy statistics
	// endpoint.
	IDToken         string          `json:"id_token,omitempty"`
	TokenID         string          `json:"token,omitempty"`
	ExpiresIn       int             `json:"expires_in,omitempty"`
	CustomerProfile json.RawMessage `json:"customerProfile,omitempty"`
}

// Valid reports whether the record can authenticate requests at the given
// time. Sessions are not proactively refreshed; callers re-check validity
// before each use.
func (r *SessionRecord) Valid(now time.Time) bool {
	return r != nil && r.AccessToken != "" && now.Before(r.Expiration)
}

// CustomerProfileUUID extracts the customer-profile identifier from the
// pass-through provider data.
func (r *SessionRecord) CustomerProfileUUID() (string, error) {
	if len(r.CustomerProfile) == 0 {
		return "", errors.New("session record has no customer profile")
	}
	var profile struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(r.CustomerProfile, &profile); err != nil {
		return "", fmt.Errorf("parse customer profile: %w", err)
	}
	if profile.UUID == "" {
		return "", errors.New("customer profile has no uuid")
	}
	return profile.UUID, nil
}

// CredentialFile loads and saves a single SessionRecord on durable storage.
type CredentialFile struct {
	Path string
}

// Load reads the persisted record. A missing file is the normal absent state
// and returns (nil, nil); a file that cannot be parsed returns a
// cache.CorruptionError rather than being treated as absent.
func (f *CredentialFile) Load() (*SessionRecord, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var record SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, &cache.CorruptionError{Path: f.Path, Err: err}
	}
	return &record, nil
}

// Save overwrites the persisted record. The write goes through a temporary
// file and rename so readers never observe a partial record, and the file
// name is sanitized for host filesystems that reject characters such as the
// colon.
func (f *CredentialFile) Save(record *SessionRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	return cache.WriteFileAtomic(f.Path, data)
}
