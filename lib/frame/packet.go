package frame

import (
	"bytes"
	"encoding/binary"

	"github.com/samber/oops"
)

// PacketMagic prefixes every packet on the link ("mpc").
var PacketMagic = [3]byte{0x6D, 0x70, 0x63}

const (
	// PacketHeaderSize is the packet magic plus the 16-bit sequence number.
	PacketHeaderSize = 5

	// DefaultPacketLimit is the fragment size used by the reference card firmware.
	DefaultPacketLimit = 240

	maxPackets = 1 << 16
)

// Packetize splits a full message into packets of at most limit fragment bytes.
// Sequence numbers start at zero for every message.
func Packetize(full []byte, limit int) ([][]byte, error) {
	if limit <= 0 {
		return nil, oops.Errorf("packet limit must be positive, got %d", limit)
	}
	count := (len(full) + limit - 1) / limit
	if count > maxPackets {
		return nil, oops.Wrapf(ErrTooManyPackets, "%d bytes at limit %d need %d packets", len(full), limit, count)
	}

	packets := make([][]byte, 0, count)
	for seq := 0; seq < count; seq++ {
		start := seq * limit
		end := min(start+limit, len(full))
		p := make([]byte, 0, PacketHeaderSize+end-start)
		p = append(p, PacketMagic[:]...)
		p = binary.BigEndian.AppendUint16(p, uint16(seq))
		p = append(p, full[start:end]...)
		packets = append(packets, p)
	}
	return packets, nil
}

// StripPacketHeader removes the packet prefix, returning the sequence number and
// the fragment. Link implementations call it before handing bytes to a Reassembler.
func StripPacketHeader(packet []byte) (uint16, []byte, error) {
	if len(packet) < PacketHeaderSize {
		return 0, nil, oops.Wrapf(ErrInvalidPacket, "packet of %d bytes is shorter than its header", len(packet))
	}
	if !bytes.Equal(packet[:len(PacketMagic)], PacketMagic[:]) {
		return 0, nil, oops.Wrapf(ErrInvalidPacket, "bad packet magic %x", packet[:len(PacketMagic)])
	}
	seq := binary.BigEndian.Uint16(packet[len(PacketMagic):PacketHeaderSize])
	return seq, packet[PacketHeaderSize:], nil
}
