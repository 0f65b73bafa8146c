// Package transport defines the packet link a frame bus runs over.
//
// # Overview
//
// A Transport carries the packets produced by frame.Packetize. Its Receive side
// yields fragments, that is packets with their 5-byte packet header already
// stripped, in arrival order. The BLE characteristic write/notify plumbing of a
// real card lives behind this interface; this package ships only the pieces the
// rest of the module needs:
//   - Pipe: two connected in-memory endpoints, used by the simulator and tests
//   - Registry: a per-application table of links keyed by device id
//
// # Thread Safety
//
// Send may be called from several goroutines, but callers that need packets of
// one message to stay contiguous must serialize their sends; the bus does.
// Registry is safe for concurrent access.
//
// # Usage Example
//
//	mobile, card := transport.Pipe()
//	reg := transport.NewRegistry()
//	reg.Register("AC_Simulator", mobile)
//	defer reg.CloseAll()
package transport
