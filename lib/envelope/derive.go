package envelope

import (
	"crypto/sha256"
	"io"

	"github.com/samber/oops"
	"golang.org/x/crypto/hkdf"
)

// DeriveKey expands an ECDH shared secret into an envelope key with HKDF-SHA256.
// Installing the result with SetKey is left to the caller; both peers must agree
// on salt and info before the derived key is used on the link.
func DeriveKey(secret, salt, info []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, oops.Errorf("empty shared secret")
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), key); err != nil {
		return nil, oops.Wrapf(err, "hkdf expand")
	}
	return key, nil
}
