package transport

import (
	"context"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// Transport is one packet link to a peer device.
type Transport interface {
	// Send writes one packet. It honours ctx for its deadline.
	Send(ctx context.Context, packet []byte) error
	// Receive returns the stream of inbound fragments. The channel is closed
	// when the link drops.
	Receive() <-chan []byte
	// Close drops the link. It is safe to call more than once.
	Close() error
}
