package handshake

// Role selects which side of the handshake a Handshake plays.
type Role int

const (
	// Initiator is the mobile side: it issues the first challenge.
	Initiator Role = iota
	// Responder is the card side: it answers the first challenge.
	Responder
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// State is a handshake state. Done and Failed are terminal.
type State int

const (
	Init State = iota
	ChallengeSent
	AwaitSignedNonce
	Verified
	IdentityExchanged
	Done
	Failed
)

var stateNames = [...]string{
	Init:              "init",
	ChallengeSent:     "challenge_sent",
	AwaitSignedNonce:  "await_signed_nonce",
	Verified:          "verified",
	IdentityExchanged: "identity_exchanged",
	Done:              "done",
	Failed:            "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "invalid"
	}
	return stateNames[s]
}

// Terminal reports whether s is Done or Failed.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}
