package keys

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"os"

	"github.com/go-i2p/go-activecard/lib/config"
	"github.com/go-i2p/go-activecard/lib/signer"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// ErrCorruptIdentity is returned when an identity file cannot be decoded or
// its public key does not belong to its private key.
var ErrCorruptIdentity = errors.New("corrupt identity file")

// identityFile is the on-disk YAML layout. Keys are base64 DER.
type identityFile struct {
	DeviceID   string `yaml:"device_id"`
	PrivateKey string `yaml:"private_key"`
	PublicKey  string `yaml:"public_key"`
}

// IdentityKeystore holds a device's ECDSA P-256 identity in a YAML file.
type IdentityKeystore struct {
	path     string
	deviceID string
	pair     signer.KeyPair
}

var _ KeyStore = &IdentityKeystore{}

// LoadOrCreate loads the identity at path, generating and storing a fresh
// key pair when the file does not exist.
func LoadOrCreate(path, deviceID string) (*IdentityKeystore, error) {
	ks, err := Load(path)
	if err == nil {
		return ks, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	log.WithFields(logger.Fields{
		"at":     "LoadOrCreate",
		"reason": "no_identity_file",
		"path":   path,
	}).Info("generating new device identity")

	pair, err := signer.GenerateKeyPair()
	if err != nil {
		return nil, oops.Wrapf(err, "generating identity")
	}
	ks = &IdentityKeystore{path: path, deviceID: deviceID, pair: pair}
	if err := ks.StoreKeys(); err != nil {
		return nil, err
	}
	return ks, nil
}

// Load reads an existing identity file. A missing file yields an error
// matching os.ErrNotExist.
func Load(path string) (*IdentityKeystore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.Wrapf(err, "reading identity %q", path)
	}
	var f identityFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, oops.Wrapf(ErrCorruptIdentity, "%s: %s", path, err.Error())
	}
	priv, err := base64.StdEncoding.DecodeString(f.PrivateKey)
	if err != nil {
		return nil, oops.Wrapf(ErrCorruptIdentity, "%s: private_key: %s", path, err.Error())
	}
	pub, err := base64.StdEncoding.DecodeString(f.PublicKey)
	if err != nil {
		return nil, oops.Wrapf(ErrCorruptIdentity, "%s: public_key: %s", path, err.Error())
	}
	if err := checkPair(priv, pub); err != nil {
		return nil, oops.Wrapf(ErrCorruptIdentity, "%s: %s", path, err.Error())
	}
	if err := tightenPermissions(path); err != nil {
		return nil, err
	}
	return &IdentityKeystore{
		path:     path,
		deviceID: f.DeviceID,
		pair:     signer.KeyPair{Private: priv, Public: pub},
	}, nil
}

// tightenPermissions restricts an identity file readable by group or others
// to its owner.
func tightenPermissions(path string) error {
	secure, err := config.IsPathSecure(path)
	if err != nil {
		return err
	}
	if secure {
		return nil
	}
	log.WithFields(logger.Fields{
		"at":     "Load",
		"reason": "insecure_permissions",
		"path":   path,
	}).Warn("identity file is readable by others, restricting to owner")
	if err := os.Chmod(path, config.SecureFilePermissions); err != nil {
		return oops.Wrapf(err, "chmod %q", path)
	}
	return nil
}

// checkPair signs a check message to confirm pub matches priv.
func checkPair(priv, pub []byte) error {
	var s signer.ECDSA
	msg := []byte("identity-check")
	sig, err := s.Sign(priv, msg)
	if err != nil {
		return err
	}
	if !s.Verify(pub, msg, sig) {
		return errors.New("public key does not match private key")
	}
	return nil
}

// KeyID returns the device id, or a short fingerprint of the public key
// when the identity has no device id.
func (ks *IdentityKeystore) KeyID() string {
	if ks.deviceID != "" {
		return ks.deviceID
	}
	return Fingerprint(ks.pair.Public)
}

func (ks *IdentityKeystore) GetKeys() ([]byte, []byte, error) {
	if len(ks.pair.Private) == 0 {
		return nil, nil, oops.Errorf("identity %q has no keys", ks.path)
	}
	return ks.pair.Public, ks.pair.Private, nil
}

// KeyPair returns the identity as a signer key pair.
func (ks *IdentityKeystore) KeyPair() signer.KeyPair {
	return ks.pair
}

func (ks *IdentityKeystore) Path() string {
	return ks.path
}

func (ks *IdentityKeystore) StoreKeys() error {
	out, err := yaml.Marshal(identityFile{
		DeviceID:   ks.deviceID,
		PrivateKey: base64.StdEncoding.EncodeToString(ks.pair.Private),
		PublicKey:  base64.StdEncoding.EncodeToString(ks.pair.Public),
	})
	if err != nil {
		return oops.Wrapf(err, "encoding identity")
	}
	return config.WriteSecureFile(ks.path, out)
}

// Fingerprint is the first 8 bytes of the SHA-256 of a public key, in hex.
func Fingerprint(pub []byte) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:8])
}
