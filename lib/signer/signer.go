// Package signer provides the signing primitive used by the authentication,
// key exchange and association state machines.
//
// Keys travel as DER: private keys as SEC1 "EC PRIVATE KEY" (or PKCS#8) and public
// keys as PKIX SubjectPublicKeyInfo. Signatures are ASN.1 DER ECDSA signatures over
// SHA-256 on curve P-256, matching the card firmware's SHA256withECDSA scheme.
package signer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"errors"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

const (
	// CodeVerificationFailed is reported when this side rejects a peer signature.
	CodeVerificationFailed = "cra-aks-008-00"
	// CodePeerRejected is reported when the peer rejects our signature.
	CodePeerRejected = "cra-mks-008-01"
)

var (
	// ErrVerificationFailed is returned when a signature does not verify.
	ErrVerificationFailed = errors.New("signature verification failed")
	// ErrInvalidKey is returned for key bytes that are not a P-256 DER key.
	ErrInvalidKey = errors.New("invalid signing key")
)

// Signer is the sign/verify contract the protocol relies on.
type Signer interface {
	// Sign signs message with the DER-encoded private key.
	Sign(privateKey, message []byte) ([]byte, error)
	// Verify reports whether signature is valid for message under the DER-encoded
	// public key. Malformed keys or signatures verify as false.
	Verify(publicKey, message, signature []byte) bool
}

// KeyPair is a DER-encoded identity key pair.
type KeyPair struct {
	Private []byte
	Public  []byte
}

// ECDSA implements Signer with SHA256withECDSA on P-256.
type ECDSA struct{}

var _ Signer = ECDSA{}

// Sign implements Signer.
func (ECDSA) Sign(privateKey, message []byte) ([]byte, error) {
	priv, err := ParsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(message)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, oops.Wrapf(err, "ecdsa sign")
	}
	return sig, nil
}

// Verify implements Signer.
func (ECDSA) Verify(publicKey, message, signature []byte) bool {
	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":    "(ECDSA) Verify",
			"error": err.Error(),
		}).Warn("unusable public key, treating signature as invalid")
		return false
	}
	digest := sha256.Sum256(message)
	return ecdsa.VerifyASN1(pub, digest[:], signature)
}

// ParsePrivateKey decodes a SEC1 or PKCS#8 DER P-256 private key.
func ParsePrivateKey(der []byte) (*ecdsa.PrivateKey, error) {
	if priv, err := x509.ParseECPrivateKey(der); err == nil {
		return checkCurve(priv)
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, oops.Wrapf(ErrInvalidKey, "private key is neither SEC1 nor PKCS#8")
	}
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, oops.Wrapf(ErrInvalidKey, "private key is %T, want ECDSA", key)
	}
	return checkCurve(priv)
}

func checkCurve(priv *ecdsa.PrivateKey) (*ecdsa.PrivateKey, error) {
	if priv.Curve != elliptic.P256() {
		return nil, oops.Wrapf(ErrInvalidKey, "curve %s, want P-256", priv.Curve.Params().Name)
	}
	return priv, nil
}

// ParsePublicKey decodes a PKIX DER P-256 public key.
func ParsePublicKey(der []byte) (*ecdsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, oops.Wrapf(ErrInvalidKey, "public key is not PKIX DER")
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, oops.Wrapf(ErrInvalidKey, "public key is %T, want ECDSA", key)
	}
	if pub.Curve != elliptic.P256() {
		return nil, oops.Wrapf(ErrInvalidKey, "curve %s, want P-256", pub.Curve.Params().Name)
	}
	return pub, nil
}

// GenerateKeyPair creates a fresh P-256 identity key pair.
func GenerateKeyPair() (KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return KeyPair{}, oops.Wrapf(err, "generating P-256 key")
	}
	privDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return KeyPair{}, oops.Wrapf(err, "marshal private key")
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return KeyPair{}, oops.Wrapf(err, "marshal public key")
	}
	return KeyPair{Private: privDER, Public: pubDER}, nil
}
