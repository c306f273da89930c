package infra

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/quietloop/shieldd/internal/domain"
)

// KVStore implements domain.SharedState on the shared encrypted database.
// Every Set and Delete is a single autocommit statement: the store never
// offers multi-key atomicity, matching the platform contract both
// processes are written against.
type KVStore struct {
	db *sql.DB
}

// NewKVStore creates the shared-state store on an open database.
func NewKVStore(d *Database) *KVStore {
	return &KVStore{db: d.db}
}

func (s *KVStore) get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM shared_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, true, nil
}

func (s *KVStore) set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO shared_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

// GetString returns the raw value for a key.
func (s *KVStore) GetString(key string) (string, bool, error) {
	return s.get(key)
}

// SetString stores a raw value under a key.
func (s *KVStore) SetString(key, value string) error {
	return s.set(key, value)
}

// GetInt returns an integer value.
func (s *KVStore) GetInt(key string) (int, bool, error) {
	raw, ok, err := s.get(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("key %s is not an integer: %w", key, err)
	}
	return v, true, nil
}

// SetInt stores an integer value.
func (s *KVStore) SetInt(key string, value int) error {
	return s.set(key, strconv.Itoa(value))
}

// GetBool returns a boolean value.
func (s *KVStore) GetBool(key string) (bool, bool, error) {
	raw, ok, err := s.get(key)
	if err != nil || !ok {
		return false, ok, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("key %s is not a boolean: %w", key, err)
	}
	return v, true, nil
}

// SetBool stores a boolean value.
func (s *KVStore) SetBool(key string, value bool) error {
	return s.set(key, strconv.FormatBool(value))
}

// GetTime returns a timestamp value.
func (s *KVStore) GetTime(key string) (time.Time, bool, error) {
	raw, ok, err := s.get(key)
	if err != nil || !ok {
		return time.Time{}, ok, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("key %s is not a timestamp: %w", key, err)
	}
	return t, true, nil
}

// SetTime stores a timestamp value.
func (s *KVStore) SetTime(key string, value time.Time) error {
	return s.set(key, value.Format(time.RFC3339Nano))
}

// GetTokenSet returns a serialized token set. Decode failures wrap
// domain.ErrBadTokenSet so callers in the background path can degrade
// to an empty set.
func (s *KVStore) GetTokenSet(key string) (domain.TokenSet, bool, error) {
	raw, ok, err := s.get(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	var ts domain.TokenSet
	if err := json.Unmarshal([]byte(raw), &ts); err != nil {
		return nil, false, fmt.Errorf("key %s: %w: %v", key, domain.ErrBadTokenSet, err)
	}
	return ts, true, nil
}

// SetTokenSet stores a token set in its canonical sorted serialization.
func (s *KVStore) SetTokenSet(key string, value domain.TokenSet) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode token set for %s: %w", key, err)
	}
	return s.set(key, string(data))
}

// Delete removes a key. Deleting an absent key succeeds.
func (s *KVStore) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM shared_state WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Ensure KVStore implements domain.SharedState.
var _ domain.SharedState = (*KVStore)(nil)
