// Package storage persists the small pieces of session state that are
// useful across restarts: the last negotiated server version, the last
// confirmed notification, and per-conversation read markers. Session
// pointers are not stable across connections, so read markers are
// keyed by the buffer's full name.
package storage

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mhoran/weerelay/internal/state"
)

const (
	storageDirPerm  = fs.FileMode(0o700)
	storageFilePerm = fs.FileMode(0o600)
	openTimeout     = 5 * time.Second
)

var (
	appBucket          = []byte("app")
	notificationBucket = []byte("notifications")
	readMarkerBucket   = []byte("read_markers")

	serverVersionKey    = []byte("server_version")
	lastNotificationKey = []byte("last")
)

// Storage wraps a bbolt database for persisted session leftovers.
type Storage struct {
	db *bolt.DB
}

// Open opens the database at ~/.weerelay/state.db, creating it and all
// buckets if needed.
func Open() (*Storage, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determining home directory: %w", err)
	}

	return OpenAt(filepath.Join(home, ".weerelay", "state.db"))
}

// OpenAt opens a database at the given path. Useful for tests that
// need an isolated database.
func OpenAt(path string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), storageDirPerm); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	db, err := bolt.Open(path, storageFilePerm, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening storage db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{appBucket, notificationBucket, readMarkerBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("initializing storage db: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close closes the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// ServerVersion returns the last negotiated server version, or "".
func (s *Storage) ServerVersion() string {
	var version string

	_ = s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(appBucket).Get(serverVersionKey); v != nil {
			version = string(v)
		}

		return nil
	})

	return version
}

// SetServerVersion persists the negotiated server version.
func (s *Storage) SetServerVersion(version string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(serverVersionKey, []byte(version))
	})
}

// SaveNotification persists the last confirmed notification.
func (s *Storage) SaveNotification(n state.Notification) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}

		return tx.Bucket(notificationBucket).Put(lastNotificationKey, data)
	})
}

// LastNotification returns the persisted notification, or nil.
func (s *Storage) LastNotification() (*state.Notification, error) {
	var n *state.Notification

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(notificationBucket).Get(lastNotificationKey)
		if v == nil {
			return nil
		}

		n = &state.Notification{}

		return json.Unmarshal(v, n)
	})

	return n, err
}

// ClearNotification removes the persisted notification.
func (s *Storage) ClearNotification() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(notificationBucket).Delete(lastNotificationKey)
	})
}

// SetReadMarker persists a read marker for a buffer full name.
func (s *Storage) SetReadMarker(fullName, linePointer string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(readMarkerBucket).Put([]byte(fullName), []byte(linePointer))
	})
}

// ReadMarker returns the read marker for a buffer full name, or "".
func (s *Storage) ReadMarker(fullName string) string {
	var marker string

	_ = s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(readMarkerBucket).Get([]byte(fullName)); v != nil {
			marker = string(v)
		}

		return nil
	})

	return marker
}

// AllReadMarkers returns every persisted read marker.
func (s *Storage) AllReadMarkers() (map[string]string, error) {
	markers := make(map[string]string)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(readMarkerBucket).ForEach(func(k, v []byte) error {
			markers[string(k)] = string(v)

			return nil
		})
	})

	return markers, err
}
