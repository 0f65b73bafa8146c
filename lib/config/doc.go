// Package config provides configuration management for go-activecard.
//
// Settings come from a YAML file, ACTIVECARD_* environment variables and the
// defaults in Defaults(), in that order of precedence. The configuration
// directory is $HOME/.go-activecard; the identity key file and the peer
// database live there unless configured elsewhere.
//
// The symmetric frame key has no default. It must be injected through the
// config file or ACTIVECARD_SYMMETRIC_KEY; deployments that share one key across
// cards should treat its distribution as a required operational control.
package config
