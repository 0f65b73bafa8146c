package main

import (
	"os"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.WithError(err).Error("activecard failed")
		os.Exit(1)
	}
}
