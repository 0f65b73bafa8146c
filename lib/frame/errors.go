package frame

import "errors"

var (
	// ErrInvalidHeader is returned when the accumulated bytes do not start with a
	// valid frame header. The reassembly buffer is reset and the message is lost.
	ErrInvalidHeader = errors.New("invalid frame header")

	// ErrMalformedMessage is returned by Build for messages violating the frame invariants.
	ErrMalformedMessage = errors.New("malformed frame message")

	// ErrInvalidPacket is returned when a packet does not carry the packet header.
	ErrInvalidPacket = errors.New("invalid packet header")

	// ErrTooManyPackets is returned when a message needs more packets than the
	// 16-bit sequence number can address.
	ErrTooManyPackets = errors.New("message exceeds packet sequence space")
)

// CodeInvalidHeader is the diagnostic code reported for header errors.
const CodeInvalidHeader = "cra-aks-008-00"
