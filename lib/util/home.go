package util

import (
	"os"
)

// UserHome returns the current user's home directory, falling back to $HOME
// and then to the working directory in containers where neither resolves.
func UserHome() string {
	homeDir, err := os.UserHomeDir()
	if err == nil {
		return homeDir
	}
	if home := os.Getenv("HOME"); home != "" {
		log.WithError(err).Warn("os.UserHomeDir failed, falling back to $HOME")
		return home
	}
	if wd, wdErr := os.Getwd(); wdErr == nil {
		log.WithError(err).Warn("home directory unavailable; falling back to working directory")
		return wd
	}
	log.WithError(err).Error("unable to determine home directory, using current directory")
	return "."
}

// FileExists reports whether path can be stat'ed.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
