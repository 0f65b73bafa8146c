package frame

import (
	"github.com/go-i2p/go-activecard/lib/event"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// Opener decrypts the payload of an encrypted frame.
type Opener interface {
	Open(iv, tag, ciphertext []byte) ([]byte, error)
}

// Reassembler accumulates fragments of one connection until a full message
// parses. It is not safe for concurrent use; exactly one goroutine, the
// connection's dispatch loop, may feed it.
type Reassembler struct {
	buf    []byte
	opener Opener
}

// NewReassembler returns an empty reassembler. When opener is non-nil, encrypted
// messages are decrypted before they are returned.
func NewReassembler(opener Opener) *Reassembler {
	return &Reassembler{opener: opener}
}

// Feed appends fragment to the buffer and tries to parse a full message.
// The buffer is kept on StatusPartial and cleared on StatusFull and StatusError.
func (r *Reassembler) Feed(fragment []byte) Result {
	r.buf = append(r.buf, fragment...)

	res := Parse(r.buf)
	switch res.Status {
	case StatusPartial:
		log.WithFields(logger.Fields{
			"at":       "(Reassembler) Feed",
			"fragment": len(fragment),
			"buffered": len(r.buf),
		}).Debug("awaiting more fragments")
		return res
	case StatusError:
		log.WithFields(logger.Fields{
			"at":       "(Reassembler) Feed",
			"buffered": len(r.buf),
			"error":    res.Err.Error(),
		}).Warn("dropping corrupt frame")
		r.Reset()
		return res
	}

	r.Reset()
	m := res.Message
	if m.Encrypted && r.opener != nil {
		plain, err := r.opener.Open(m.IV, m.Tag, m.Contents)
		if err != nil {
			log.WithFields(logger.Fields{
				"at":    "(Reassembler) Feed",
				"event": event.Name(m.EventID),
				"size":  m.Size,
			}).Warn("failed to decrypt frame payload")
			return failed(oops.Wrapf(err, "decrypting %s frame", event.Name(m.EventID)))
		}
		m.Contents = plain
	}
	return res
}

// Reset drops any buffered bytes.
func (r *Reassembler) Reset() {
	r.buf = nil
}

// Buffered returns the number of bytes awaiting a complete message.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}
