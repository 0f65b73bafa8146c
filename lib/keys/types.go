package keys

import (
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// KeyStore stores and retrieves a device identity key pair.
type KeyStore interface {
	KeyID() string
	// GetKeys returns the DER public and private keys
	GetKeys() (publicKey, privateKey []byte, err error)
	// StoreKeys persists the keys
	StoreKeys() error
}
