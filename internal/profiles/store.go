// Package profiles persists connection profiles in a local bbolt file.
// Secrets never touch the file: passwords, SSH key material, SASL
// credentials and the raw URI live in the keyring, one entry per profile.
package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/keyring"
	"github.com/redbco/redb-desk/pkg/logger"
)

const (
	bucketProfiles = "profiles" // key: profile id -> profile JSON without secrets

	// keyringService namespaces profile secrets in the keyring.
	keyringService = "redb-desk-profiles"
)

// secrets is the keyring payload of one profile.
type secrets struct {
	Password      string `json:"password,omitempty"`
	URI           string `json:"uri,omitempty"`
	SSHPassword   string `json:"sshPassword,omitempty"`
	SSHPrivateKey string `json:"sshPrivateKey,omitempty"`
	SSHPassphrase string `json:"sshPassphrase,omitempty"`
	SASLPassword  string `json:"saslPassword,omitempty"`
}

func (s secrets) empty() bool {
	return s == secrets{}
}

// Store keeps connection profiles. It is safe for concurrent use.
type Store struct {
	db      *bbolt.DB
	secrets keyring.Store
	logger  *logger.Logger
}

// Open opens (or creates) the profile database at path.
func Open(path string, secretStore keyring.Store) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open profile database %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketProfiles))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize profile database: %w", err)
	}

	return &Store{db: db, secrets: secretStore}, nil
}

// SetLogger sets the logger for the store
func (s *Store) SetLogger(l *logger.Logger) {
	s.logger = l
}

// Close closes the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save validates and stores profile. A profile without an id gets a new
// one. The stored profile, secrets included, is returned.
func (s *Store) Save(ctx context.Context, profile adapter.ConnectionProfile) (adapter.ConnectionProfile, error) {
	if err := ctx.Err(); err != nil {
		return adapter.ConnectionProfile{}, err
	}

	profile = profile.Clone()
	if strings.TrimSpace(profile.ID) == "" {
		profile.ID = uuid.NewString()
	}
	if err := profile.Validate(); err != nil {
		return adapter.ConnectionProfile{}, err
	}

	now := time.Now().UTC()
	if existing, err := s.load(profile.ID); err == nil {
		profile.CreatedAt = existing.CreatedAt
	} else {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now

	stripped, sec := split(profile)
	if sec.empty() {
		if err := s.secrets.Delete(keyringService, profile.ID); err != nil {
			return adapter.ConnectionProfile{}, fmt.Errorf("failed to clear secrets for %s: %w", profile.ID, err)
		}
	} else {
		data, err := json.Marshal(sec)
		if err != nil {
			return adapter.ConnectionProfile{}, err
		}
		if err := s.secrets.Set(keyringService, profile.ID, string(data)); err != nil {
			return adapter.ConnectionProfile{}, fmt.Errorf("failed to store secrets for %s: %w", profile.ID, err)
		}
	}

	data, err := json.Marshal(stripped)
	if err != nil {
		return adapter.ConnectionProfile{}, err
	}
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketProfiles)).Put([]byte(profile.ID), data)
	}); err != nil {
		return adapter.ConnectionProfile{}, fmt.Errorf("failed to save profile %s: %w", profile.ID, err)
	}

	if s.logger != nil {
		s.logger.Info("Saved profile %s (%s)", profile.ID, profile.Kind)
	}
	return profile, nil
}

// Get returns the profile with its secrets. It implements the router's
// profile lookup.
func (s *Store) Get(ctx context.Context, id string) (adapter.ConnectionProfile, error) {
	if err := ctx.Err(); err != nil {
		return adapter.ConnectionProfile{}, err
	}
	profile, err := s.load(id)
	if err != nil {
		return adapter.ConnectionProfile{}, err
	}

	raw, err := s.secrets.Get(keyringService, id)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return profile, nil
	case err != nil:
		return adapter.ConnectionProfile{}, fmt.Errorf("failed to read secrets for %s: %w", id, err)
	}

	var sec secrets
	if err := json.Unmarshal([]byte(raw), &sec); err != nil {
		return adapter.ConnectionProfile{}, fmt.Errorf("corrupt secrets for %s: %w", id, err)
	}
	return merge(profile, sec), nil
}

// List returns every profile without its secrets, sorted by name then id.
func (s *Store) List(ctx context.Context) ([]adapter.ConnectionProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []adapter.ConnectionProfile
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketProfiles)).ForEach(func(k, v []byte) error {
			var p adapter.ConnectionProfile
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("corrupt profile %s: %w", k, err)
			}
			out = append(out, p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Delete removes a profile and its secrets.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.load(id); err != nil {
		return err
	}
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketProfiles)).Delete([]byte(id))
	}); err != nil {
		return fmt.Errorf("failed to delete profile %s: %w", id, err)
	}
	if err := s.secrets.Delete(keyringService, id); err != nil && s.logger != nil {
		s.logger.Warn("Profile %s deleted but its secrets could not be removed: %v", id, err)
	}
	return nil
}

func (s *Store) load(id string) (adapter.ConnectionProfile, error) {
	var profile adapter.ConnectionProfile
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketProfiles)).Get([]byte(id))
		if data == nil {
			return adapter.NewValidationError("id", fmt.Sprintf("no saved profile %q", id))
		}
		return json.Unmarshal(data, &profile)
	})
	return profile, err
}

// split moves the secret fields of p into a secrets value. The URI is kept
// in redacted form for display.
func split(p adapter.ConnectionProfile) (adapter.ConnectionProfile, secrets) {
	p = p.Clone()
	sec := secrets{Password: p.Password}
	p.Password = ""

	if p.URI != "" {
		if masked := p.Redacted().URI; masked != p.URI {
			sec.URI = p.URI
			p.URI = masked
		}
	}
	if p.SSHTunnel != nil {
		sec.SSHPassword, p.SSHTunnel.Password = p.SSHTunnel.Password, ""
		sec.SSHPrivateKey, p.SSHTunnel.PrivateKey = p.SSHTunnel.PrivateKey, ""
		sec.SSHPassphrase, p.SSHTunnel.Passphrase = p.SSHTunnel.Passphrase, ""
	}
	if p.Broker != nil && p.Broker.SASL != nil {
		sec.SASLPassword, p.Broker.SASL.Password = p.Broker.SASL.Password, ""
	}
	return p, sec
}

func merge(p adapter.ConnectionProfile, sec secrets) adapter.ConnectionProfile {
	p.Password = sec.Password
	if sec.URI != "" {
		p.URI = sec.URI
	}
	if p.SSHTunnel != nil {
		p.SSHTunnel.Password = sec.SSHPassword
		p.SSHTunnel.PrivateKey = sec.SSHPrivateKey
		p.SSHTunnel.Passphrase = sec.SSHPassphrase
	}
	if p.Broker != nil && p.Broker.SASL != nil {
		p.Broker.SASL.Password = sec.SASLPassword
	}
	return p
}
