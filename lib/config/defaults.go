package config

import (
	"errors"
	"net"
	"path/filepath"
	"time"

	"github.com/go-i2p/go-activecard/lib/frame"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// ConfigDefaults contains the default values for every setting except the
// symmetric key, which is never defaulted.
type ConfigDefaults struct {
	// PacketLimit is the fragment payload size per packet, the link MTU minus
	// the 5-byte packet header.
	// Default: 240 bytes
	PacketLimit int

	// WriteTimeout bounds each packet write.
	// Default: 500 milliseconds
	WriteTimeout time.Duration

	// PacketInterval paces consecutive packet writes; the link has no write
	// backpressure and drops packets written back to back.
	// Default: 50 milliseconds
	PacketInterval time.Duration

	// StartupDelay is waited before the first challenge of a session.
	// Default: 2 seconds
	StartupDelay time.Duration

	// SettleDelay separates an MPC job start from its first round input.
	// Default: 200 milliseconds
	SettleDelay time.Duration

	// MutualAuth makes the card challenge the mobile back.
	// Default: true
	MutualAuth bool

	// IdentityFile holds this device's identity key pair.
	// Default: $HOME/.go-activecard/identity.yaml
	IdentityFile string

	// PeerDB stores peer identity keys.
	// Default: $HOME/.go-activecard/peers.db
	PeerDB string

	// DeviceID names the simulated card.
	// Default: AC_Simulator
	DeviceID string

	// MetricsAddr is the host:port serving Prometheus metrics on /metrics.
	// Default: "" (disabled)
	MetricsAddr string
}

// Defaults returns the default configuration.
func Defaults() ConfigDefaults {
	dir := BuildActiveCardDirPath()
	return ConfigDefaults{
		PacketLimit:    frame.DefaultPacketLimit,
		WriteTimeout:   500 * time.Millisecond,
		PacketInterval: 50 * time.Millisecond,
		StartupDelay:   2 * time.Second,
		SettleDelay:    200 * time.Millisecond,
		MutualAuth:     true,
		IdentityFile:   filepath.Join(dir, "identity.yaml"),
		PeerDB:         filepath.Join(dir, "peers.db"),
		DeviceID:       "AC_Simulator",
	}
}

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("configuration validation failed")

// maxPacketLimit keeps a packet, header included, inside the largest BLE ATT MTU.
const maxPacketLimit = 512 - frame.PacketHeaderSize

// Validate checks a resolved configuration.
func Validate(cfg *Config) error {
	log.WithFields(logger.Fields{
		"at":     "Validate",
		"reason": "verification_requested",
	}).Debug("validating configuration")

	validators := []func() error{
		func() error { return validateLink(cfg) },
		func() error { return validateSession(cfg) },
		func() error { return validatePaths(cfg) },
	}
	for _, validator := range validators {
		if err := validator(); err != nil {
			log.WithError(err).Error("Configuration validation failed")
			return err
		}
	}
	return nil
}

func validateLink(cfg *Config) error {
	if cfg.PacketLimit < 1 || cfg.PacketLimit > maxPacketLimit {
		return newValidationError("packet_limit must be between 1 and %d, got %d", maxPacketLimit, cfg.PacketLimit)
	}
	if cfg.WriteTimeout <= 0 {
		return newValidationError("write_timeout must be positive")
	}
	if cfg.PacketInterval < 0 {
		return newValidationError("packet_interval must not be negative")
	}
	return nil
}

func validateSession(cfg *Config) error {
	if cfg.StartupDelay < 0 {
		return newValidationError("startup_delay must not be negative")
	}
	if cfg.SettleDelay < 0 {
		return newValidationError("settle_delay must not be negative")
	}
	return nil
}

func validatePaths(cfg *Config) error {
	if cfg.IdentityFile == "" {
		return newValidationError("identity_file must be set")
	}
	if cfg.PeerDB == "" {
		return newValidationError("peer_db must be set")
	}
	if cfg.DeviceID == "" {
		return newValidationError("device_id must be set")
	}
	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			return newValidationError("metrics_addr %q: %s", cfg.MetricsAddr, err.Error())
		}
	}
	return nil
}

func newValidationError(format string, args ...any) error {
	return oops.Wrapf(ErrInvalidConfig, format, args...)
}
