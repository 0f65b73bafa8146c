// Package peerstore persists the identity keys of paired peers in a bbolt
// database keyed by the peer's source name.
package peerstore

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/go-i2p/go-activecard/lib/config"
	"github.com/go-i2p/go-activecard/lib/signer"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	bolt "go.etcd.io/bbolt"
)

var log = logger.GetGoI2PLogger()

const (
	metadataBucket = "metadata"
	peersBucket    = "peers"
	versionKey     = "version"

	// MaxSourceSize bounds peer names.
	MaxSourceSize = 64

	schemaVersion = 0
)

var (
	ErrNoSuchPeer    = errors.New("peerstore: no such peer")
	ErrInvalidSource = errors.New("peerstore: invalid source")
	ErrIncompatible  = errors.New("peerstore: incompatible database version")
)

// Store is a bbolt backed peer key store.
type Store struct {
	sync.RWMutex

	db    *bolt.DB
	cache map[string]bool
}

// New creates (or loads) a peer database at path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), config.SecureDirPermissions); err != nil {
		return nil, oops.Wrapf(err, "creating peer database directory")
	}
	db, err := bolt.Open(path, config.SecureFilePermissions, nil)
	if err != nil {
		return nil, oops.Wrapf(err, "opening peer database %q", path)
	}
	s := &Store{db: db, cache: make(map[string]bool)}

	if err := db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		peers, err := tx.CreateBucketIfNotExists([]byte(peersBucket))
		if err != nil {
			return err
		}

		if b := meta.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != schemaVersion {
				return oops.Wrapf(ErrIncompatible, "version %v", b)
			}
			return peers.ForEach(func(k, _ []byte) error {
				s.cache[string(k)] = true
				return nil
			})
		}
		return meta.Put([]byte(versionKey), []byte{schemaVersion})
	}); err != nil {
		db.Close()
		return nil, err
	}

	log.WithFields(logger.Fields{
		"at":    "New",
		"path":  path,
		"peers": len(s.cache),
	}).Debug("peer database opened")
	return s, nil
}

// SavePeerKey stores the DER public key of source, replacing any previous key.
func (s *Store) SavePeerKey(source string, publicKey []byte) error {
	if !sourceOk(source) {
		return oops.Wrapf(ErrInvalidSource, "%q", source)
	}
	if _, err := signer.ParsePublicKey(publicKey); err != nil {
		return oops.Wrapf(err, "peer %q", source)
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(peersBucket)).Put([]byte(source), publicKey)
	})
	if err != nil {
		return oops.Wrapf(err, "saving peer %q", source)
	}

	s.Lock()
	s.cache[source] = true
	s.Unlock()

	log.WithFields(logger.Fields{
		"at":     "(Store) SavePeerKey",
		"source": source,
	}).Info("peer key saved")
	return nil
}

// Exists reports whether a key is stored for source.
func (s *Store) Exists(source string) bool {
	s.RLock()
	defer s.RUnlock()
	return s.cache[source]
}

// Get returns the stored key for source.
func (s *Store) Get(source string) ([]byte, error) {
	var pub []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(peersBucket)).Get([]byte(source))
		if raw == nil {
			return ErrNoSuchPeer
		}
		pub = append([]byte(nil), raw...)
		return nil
	})
	if err != nil {
		return nil, oops.Wrapf(err, "peer %q", source)
	}
	return pub, nil
}

// Forget removes the key stored for deviceID.
func (s *Store) Forget(deviceID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(peersBucket))
		if bkt.Get([]byte(deviceID)) == nil {
			return ErrNoSuchPeer
		}
		return bkt.Delete([]byte(deviceID))
	})
	if err != nil {
		return oops.Wrapf(err, "forgetting %q", deviceID)
	}

	s.Lock()
	delete(s.cache, deviceID)
	s.Unlock()

	log.WithFields(logger.Fields{
		"at":     "(Store) Forget",
		"device": deviceID,
	}).Info("peer forgotten")
	return nil
}

// List returns the stored peer names in order.
func (s *Store) List() []string {
	s.RLock()
	defer s.RUnlock()
	out := make([]string, 0, len(s.cache))
	for k := range s.cache {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Store) Close() error {
	if err := s.db.Sync(); err != nil {
		log.WithError(err).Warn("peer database sync failed")
	}
	return s.db.Close()
}

func sourceOk(source string) bool {
	return len(source) > 0 && len(source) <= MaxSourceSize
}
