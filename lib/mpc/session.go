package mpc

import "time"

// Phase is what a group is currently doing.
type Phase int

const (
	Idle Phase = iota
	Keygen
	Paillier
	Signing
	Aborted
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Keygen:
		return "keygen"
	case Paillier:
		return "paillier"
	case Signing:
		return "signing"
	case Aborted:
		return "aborted"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Running reports whether p has a live job.
func (p Phase) Running() bool {
	return p == Keygen || p == Paillier || p == Signing
}

// GroupSession is the relay's view of one group.
type GroupSession struct {
	GroupID string
	Phase   Phase
	// Job numbers jobs across all groups; a replaced job gets a new number.
	Job     uint64
	Started time.Time
	// Inputs counts round messages handed to the current job.
	Inputs int
}
