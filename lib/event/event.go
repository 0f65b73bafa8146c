// Package event defines the wire event identifiers exchanged between the mobile
// device and the active card.
package event

import "fmt"

// ID identifies the kind of payload carried by a frame.
type ID uint16

// Pairing and authentication events.
const (
	Challenge                   ID = 1  // Random nonce the peer must sign
	SignedNonce                 ID = 2  // Signature over the received nonce
	SignatureVerificationResult ID = 3  // Outcome of verifying a signed nonce
	SendIdentityPublicKey       ID = 4  // Long-term identity public key
	SendEcdhPublicKey           ID = 5  // Signed ephemeral ECDH public key
	EcdhExchangeAck             ID = 6  // Shared secret derived
	SendUserIdentity            ID = 7  // Signed user identity blob
	PairingConfirmation         ID = 8  // Association result
	ForgetDevice                ID = 9  // Drop the pairing for a device
	ForgetAck                   ID = 10 // Pairing dropped
)

// MPC relay events.
const (
	KgRoundBroadcast                   ID = 1001
	KgInitMnemonicKeygen               ID = 1002
	KgInitPaillier                     ID = 1003
	KgStoreExternalPartyIdentityPubkey ID = 1004
	KgStoreGroupPartyData              ID = 1005
	KgStorePartyIdentityPrivateKey     ID = 1006
	KgSendExchangeMessage              ID = 1007
	KgError                            ID = 1010
	KgAbort                            ID = 1011
	KgInitSigningProcess               ID = 1100
)

var names = map[ID]string{
	Challenge:                          "challenge",
	SignedNonce:                        "signed_nonce",
	SignatureVerificationResult:        "signature_verification_result",
	SendIdentityPublicKey:              "send_identity_public_key",
	SendEcdhPublicKey:                  "send_ecdh_public_key",
	EcdhExchangeAck:                    "ecdh_exchange_ack",
	SendUserIdentity:                   "send_user_identity",
	PairingConfirmation:                "pairing_confirmation",
	ForgetDevice:                       "forget_device",
	ForgetAck:                          "forget_ack",
	KgRoundBroadcast:                   "kg_round_broadcast",
	KgInitMnemonicKeygen:               "kg_init_mnemonic_keygen",
	KgInitPaillier:                     "kg_init_paillier",
	KgStoreExternalPartyIdentityPubkey: "kg_store_external_party_identity_pubkey",
	KgStoreGroupPartyData:              "kg_store_group_party_data",
	KgStorePartyIdentityPrivateKey:     "kg_store_party_identity_private_key",
	KgSendExchangeMessage:              "kg_send_exchange_message",
	KgError:                            "kg_error",
	KgAbort:                            "kg_abort",
	KgInitSigningProcess:               "kg_init_signing_process",
}

// Known reports whether id is part of the current event table.
func Known(id ID) bool {
	_, ok := names[id]
	return ok
}

// Name returns a stable name for logging. Unknown ids render as unknown(<n>).
func Name(id ID) string {
	if n, ok := names[id]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", uint16(id))
}

func (id ID) String() string {
	return Name(id)
}

// IsRelay reports whether id belongs to the MPC relay range.
func IsRelay(id ID) bool {
	return id >= KgRoundBroadcast && Known(id)
}
