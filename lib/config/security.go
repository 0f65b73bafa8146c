package config

import (
	"os"
	"path/filepath"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// SecureFilePermissions for identity keys and the peer database.
const SecureFilePermissions = 0o600

// SecureDirPermissions for the configuration directory.
const SecureDirPermissions = 0o700

// CreateSecureDirectory creates path with owner-only permissions, tightening
// the mode of an existing directory.
func CreateSecureDirectory(path string) error {
	clean := filepath.Clean(path)
	if err := os.MkdirAll(clean, SecureDirPermissions); err != nil {
		return oops.Wrapf(err, "creating directory %q", clean)
	}
	info, err := os.Stat(clean)
	if err != nil {
		return oops.Wrapf(err, "stat %q", clean)
	}
	if !info.IsDir() {
		return oops.Errorf("expected directory but found file: %s", clean)
	}
	if info.Mode().Perm() != SecureDirPermissions {
		log.WithFields(logger.Fields{
			"at":      "CreateSecureDirectory",
			"reason":  "insecure_permissions",
			"path":    clean,
			"current": info.Mode().Perm().String(),
		}).Warn("tightening directory permissions")
		if err := os.Chmod(clean, SecureDirPermissions); err != nil {
			return oops.Wrapf(err, "chmod %q", clean)
		}
	}
	return nil
}

// WriteSecureFile writes data with owner-only permissions, creating the
// parent directory when needed.
func WriteSecureFile(path string, data []byte) error {
	clean := filepath.Clean(path)
	if err := CreateSecureDirectory(filepath.Dir(clean)); err != nil {
		return err
	}
	if err := os.WriteFile(clean, data, SecureFilePermissions); err != nil {
		return oops.Wrapf(err, "writing %q", clean)
	}
	// WriteFile keeps the mode of an existing file.
	return os.Chmod(clean, SecureFilePermissions)
}

// IsPathSecure reports whether path is not readable by group or others.
func IsPathSecure(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, oops.Wrapf(err, "stat %q", path)
	}
	return info.Mode().Perm()&0o077 == 0, nil
}
