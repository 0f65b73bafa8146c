package config

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-i2p/go-activecard/lib/envelope"
	"github.com/go-i2p/go-activecard/lib/util"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/viper"
)

var (
	CfgFile string
	log     = logger.GetGoI2PLogger()
)

const ACTIVECARD_BASE_DIR = ".go-activecard"

// EnvPrefix prefixes environment variable overrides, e.g. ACTIVECARD_PACKET_LIMIT.
const EnvPrefix = "ACTIVECARD"

// Keys.
const (
	KeySymmetricKey   = "symmetric_key"
	KeyPacketLimit    = "packet_limit"
	KeyWriteTimeout   = "write_timeout"
	KeyPacketInterval = "packet_interval"
	KeyStartupDelay   = "startup_delay"
	KeySettleDelay    = "settle_delay"
	KeyMutualAuth     = "mutual_auth"
	KeyIdentityFile   = "identity_file"
	KeyPeerDB         = "peer_db"
	KeyDeviceID       = "device_id"
	KeyMetricsAddr    = "metrics_addr"
)

// ErrMissingKey is returned when no symmetric key is configured.
var ErrMissingKey = errors.New("symmetric_key is not configured")

// Config is the resolved configuration.
type Config struct {
	SymmetricKey   []byte
	PacketLimit    int
	WriteTimeout   time.Duration
	PacketInterval time.Duration
	StartupDelay   time.Duration
	SettleDelay    time.Duration
	MutualAuth     bool
	IdentityFile   string
	PeerDB         string
	DeviceID       string
	MetricsAddr    string
}

// InitConfig points viper at the config file and loads it over the defaults.
// A missing default config file is not an error; a missing explicit one is.
func InitConfig() error {
	if CfgFile != "" {
		viper.SetConfigFile(CfgFile)
	} else {
		viper.AddConfigPath(BuildActiveCardDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	return handleConfigFile()
}

func setDefaults() {
	d := Defaults()
	viper.SetDefault(KeyPacketLimit, d.PacketLimit)
	viper.SetDefault(KeyWriteTimeout, d.WriteTimeout)
	viper.SetDefault(KeyPacketInterval, d.PacketInterval)
	viper.SetDefault(KeyStartupDelay, d.StartupDelay)
	viper.SetDefault(KeySettleDelay, d.SettleDelay)
	viper.SetDefault(KeyMutualAuth, d.MutualAuth)
	viper.SetDefault(KeyIdentityFile, d.IdentityFile)
	viper.SetDefault(KeyPeerDB, d.PeerDB)
	viper.SetDefault(KeyDeviceID, d.DeviceID)
	viper.SetDefault(KeyMetricsAddr, d.MetricsAddr)
}

func handleConfigFile() error {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && CfgFile == "" {
			log.WithFields(logger.Fields{
				"at":     "handleConfigFile",
				"reason": "no_config_file",
				"dir":    BuildActiveCardDirPath(),
			}).Debug("no config file found, using defaults and environment")
			return nil
		}
		return oops.Wrapf(err, "reading config file")
	}
	log.WithField("file", viper.ConfigFileUsed()).Debug("using config file")
	return nil
}

// CurrentConfig resolves the loaded settings and validates them.
func CurrentConfig() (*Config, error) {
	raw := viper.GetString(KeySymmetricKey)
	if raw == "" {
		return nil, ErrMissingKey
	}
	key, err := envelope.DecodeKey(raw)
	if err != nil {
		return nil, oops.Wrapf(err, "config key %s", KeySymmetricKey)
	}

	cfg := &Config{
		SymmetricKey:   key,
		PacketLimit:    viper.GetInt(KeyPacketLimit),
		WriteTimeout:   viper.GetDuration(KeyWriteTimeout),
		PacketInterval: viper.GetDuration(KeyPacketInterval),
		StartupDelay:   viper.GetDuration(KeyStartupDelay),
		SettleDelay:    viper.GetDuration(KeySettleDelay),
		MutualAuth:     viper.GetBool(KeyMutualAuth),
		IdentityFile:   viper.GetString(KeyIdentityFile),
		PeerDB:         viper.GetString(KeyPeerDB),
		DeviceID:       viper.GetString(KeyDeviceID),
		MetricsAddr:    viper.GetString(KeyMetricsAddr),
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func BuildActiveCardDirPath() string {
	return filepath.Join(util.UserHome(), ACTIVECARD_BASE_DIR)
}
