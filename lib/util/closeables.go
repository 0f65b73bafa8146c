package util

import (
	"errors"
	"io"
	"sync"

	"github.com/go-i2p/logger"
)

// Closers collects resources to release at shutdown. Close releases them in
// reverse registration order.
type Closers struct {
	mu   sync.Mutex
	list []io.Closer
}

// Register adds c; it is safe for concurrent use.
func (cs *Closers) Register(c io.Closer) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.list = append(cs.list, c)
	log.WithField("count", len(cs.list)).Debug("Registered closer")
}

// Close closes every registered closer and clears the list. The errors of
// all failing closers are joined.
func (cs *Closers) Close() error {
	cs.mu.Lock()
	list := cs.list
	cs.list = nil
	cs.mu.Unlock()

	log.WithField("count", len(list)).Debug("Closing all registered closers")

	var errs []error
	for i := len(list) - 1; i >= 0; i-- {
		if err := list[i].Close(); err != nil {
			log.WithFields(logger.Fields{
				"at":     "(Closers) Close",
				"reason": "close_failed",
				"index":  i,
			}).WithError(err).Warn("Error closing resource")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
