package configstore

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hypertool-ai/mcp-proxy/internal/mcperrors"
)

var (
	bucketToolsets = []byte("toolsets")
	bucketPersonaSnapshots = []byte("persona_snapshots")
)

// ToolReference is the persisted form of spec.md §3's ToolReference.
type ToolReference struct {
	NamespacedName string `json:"namespacedName,omitempty"`
	RefID          string `json:"refId,omitempty"`
}

// Toolset is the persisted form of spec.md §3's ToolsetConfig.
type Toolset struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Version     string          `json:"version"`
	CreatedAt   time.Time       `json:"createdAt"`
	Tools       []ToolReference `json:"tools"`
}

// PersonaSnapshot is the rollback record spec.md §4.6 step 4 captures
// before a persona activation mutates live state.
type PersonaSnapshot struct {
	PersonaName     string                          `json:"personaName"`
	ActiveToolset   string                           `json:"activeToolset,omitempty"`
	ServerConfigs   map[string]json.RawMessage       `json:"serverConfigs"`
	CapturedAt      time.Time                        `json:"capturedAt"`
}

// Store is the durable bbolt-backed home for stored toolsets and persona
// rollback snapshots — preferences.json's structured content in spec.md
// §6's persisted-state layout, backed by an embedded KV file rather than a
// single flat JSON file so concurrent readers never race a writer.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt file at path and ensures both
// buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, mcperrors.Configuration("failed to open preferences store %s: %v", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketToolsets); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketPersonaSnapshots)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, mcperrors.Internal(err, "failed to initialize preferences buckets")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying bbolt file.
func (s *Store) Close() error { return s.db.Close() }

// PutToolset persists a toolset, overwriting any prior entry of the same
// name. Callers enforce the "name already exists" invariant before calling
// this for a create, and require existence for an update.
func (s *Store) PutToolset(t Toolset) error {
	data, err := json.Marshal(t)
	if err != nil {
		return mcperrors.Internal(err, "failed to marshal toolset %s", t.Name)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketToolsets).Put([]byte(t.Name), data)
	})
}

// GetToolset loads a toolset by name.
func (s *Store) GetToolset(name string) (Toolset, bool, error) {
	var t Toolset
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketToolsets).Get([]byte(name))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &t)
	})
	if err != nil {
		return Toolset{}, false, mcperrors.Internal(err, "failed to load toolset %s", name)
	}
	return t, found, nil
}

// DeleteToolset removes a toolset by name.
func (s *Store) DeleteToolset(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketToolsets).Delete([]byte(name))
	})
}

// ListToolsets returns every stored toolset's name.
func (s *Store) ListToolsets() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketToolsets).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, mcperrors.Internal(err, "failed to list toolsets")
	}
	return names, nil
}

// PutPersonaSnapshot persists the rollback snapshot for a persona
// activation, keyed by persona name (one outstanding snapshot per persona).
func (s *Store) PutPersonaSnapshot(snap PersonaSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return mcperrors.Internal(err, "failed to marshal persona snapshot %s", snap.PersonaName)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPersonaSnapshots).Put([]byte(snap.PersonaName), data)
	})
}

// GetPersonaSnapshot loads the rollback snapshot for a persona, if any.
func (s *Store) GetPersonaSnapshot(personaName string) (PersonaSnapshot, bool, error) {
	var snap PersonaSnapshot
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPersonaSnapshots).Get([]byte(personaName))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &snap)
	})
	if err != nil {
		return PersonaSnapshot{}, false, mcperrors.Internal(err, "failed to load persona snapshot %s", personaName)
	}
	return snap, found, nil
}

// DeletePersonaSnapshot removes a persona's rollback snapshot once it is no
// longer needed (on deactivation, after the snapshot has been restored).
func (s *Store) DeletePersonaSnapshot(personaName string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPersonaSnapshots).Delete([]byte(personaName))
	})
}
