package payload

// NonceRequest carries a challenge nonce.
type NonceRequest struct {
	Nonce []byte
}

// MarshalBinary encodes the NonceRequest in protobuf wire format.
func (m *NonceRequest) MarshalBinary() ([]byte, error) {
	var e encoder
	e.bytes(1, m.Nonce)
	return e.out(), nil
}

// UnmarshalBinary decodes b into the NonceRequest, replacing its previous value.
func (m *NonceRequest) UnmarshalBinary(b []byte) error {
	f, err := parse(b, "NonceRequest")
	if err != nil {
		return err
	}
	*m = NonceRequest{Nonce: f.bytes(1)}
	return nil
}

// SignedNonce answers a NonceRequest.
type SignedNonce struct {
	Signature []byte
}

// MarshalBinary encodes the SignedNonce in protobuf wire format.
func (m *SignedNonce) MarshalBinary() ([]byte, error) {
	var e encoder
	e.bytes(1, m.Signature)
	return e.out(), nil
}

// UnmarshalBinary decodes b into the SignedNonce, replacing its previous value.
func (m *SignedNonce) UnmarshalBinary(b []byte) error {
	f, err := parse(b, "SignedNonce")
	if err != nil {
		return err
	}
	*m = SignedNonce{Signature: f.bytes(1)}
	return nil
}

// SignatureVerificationResult reports the outcome of checking a SignedNonce.
type SignatureVerificationResult struct {
	Valid  bool
	Reason string
}

// MarshalBinary encodes the SignatureVerificationResult in protobuf wire format.
func (m *SignatureVerificationResult) MarshalBinary() ([]byte, error) {
	var e encoder
	e.bool(1, m.Valid)
	e.string(2, m.Reason)
	return e.out(), nil
}

// UnmarshalBinary decodes b into the SignatureVerificationResult, replacing its previous value.
func (m *SignatureVerificationResult) UnmarshalBinary(b []byte) error {
	f, err := parse(b, "SignatureVerificationResult")
	if err != nil {
		return err
	}
	*m = SignatureVerificationResult{Valid: f.bool(1), Reason: f.string(2)}
	return nil
}

// IdentityPublicKey announces a long-term identity key.
type IdentityPublicKey struct {
	PublicKey []byte
	Source    string
}

// MarshalBinary encodes the IdentityPublicKey in protobuf wire format.
func (m *IdentityPublicKey) MarshalBinary() ([]byte, error) {
	var e encoder
	e.bytes(1, m.PublicKey)
	e.string(2, m.Source)
	return e.out(), nil
}

// UnmarshalBinary decodes b into the IdentityPublicKey, replacing its previous value.
func (m *IdentityPublicKey) UnmarshalBinary(b []byte) error {
	f, err := parse(b, "IdentityPublicKey")
	if err != nil {
		return err
	}
	*m = IdentityPublicKey{PublicKey: f.bytes(1), Source: f.string(2)}
	return nil
}

// EcdhPublicKey carries an ephemeral key signed with the sender's identity key.
type EcdhPublicKey struct {
	PublicKey []byte
	Source    string
	Signature []byte
}

// MarshalBinary encodes the EcdhPublicKey in protobuf wire format.
func (m *EcdhPublicKey) MarshalBinary() ([]byte, error) {
	var e encoder
	e.bytes(1, m.PublicKey)
	e.string(2, m.Source)
	e.bytes(3, m.Signature)
	return e.out(), nil
}

// UnmarshalBinary decodes b into the EcdhPublicKey, replacing its previous value.
func (m *EcdhPublicKey) UnmarshalBinary(b []byte) error {
	f, err := parse(b, "EcdhPublicKey")
	if err != nil {
		return err
	}
	*m = EcdhPublicKey{PublicKey: f.bytes(1), Source: f.string(2), Signature: f.bytes(3)}
	return nil
}

// EcdhExchangeAck confirms that a shared secret was derived.
type EcdhExchangeAck struct {
	Source string
	OK     bool
}

// MarshalBinary encodes the EcdhExchangeAck in protobuf wire format.
func (m *EcdhExchangeAck) MarshalBinary() ([]byte, error) {
	var e encoder
	e.string(1, m.Source)
	e.bool(2, m.OK)
	return e.out(), nil
}

// UnmarshalBinary decodes b into the EcdhExchangeAck, replacing its previous value.
func (m *EcdhExchangeAck) UnmarshalBinary(b []byte) error {
	f, err := parse(b, "EcdhExchangeAck")
	if err != nil {
		return err
	}
	*m = EcdhExchangeAck{Source: f.string(1), OK: f.bool(2)}
	return nil
}

// UserIdentity binds an opaque user id blob to the sender's identity key.
type UserIdentity struct {
	Signature       []byte
	EncryptedUserID []byte
}

// MarshalBinary encodes the UserIdentity in protobuf wire format.
func (m *UserIdentity) MarshalBinary() ([]byte, error) {
	var e encoder
	e.bytes(1, m.Signature)
	e.bytes(2, m.EncryptedUserID)
	return e.out(), nil
}

// UnmarshalBinary decodes b into the UserIdentity, replacing its previous value.
func (m *UserIdentity) UnmarshalBinary(b []byte) error {
	f, err := parse(b, "UserIdentity")
	if err != nil {
		return err
	}
	*m = UserIdentity{Signature: f.bytes(1), EncryptedUserID: f.bytes(2)}
	return nil
}

// PairingConfirmation answers a UserIdentity.
type PairingConfirmation struct {
	Confirmed bool
}

// MarshalBinary encodes the PairingConfirmation in protobuf wire format.
func (m *PairingConfirmation) MarshalBinary() ([]byte, error) {
	var e encoder
	e.bool(1, m.Confirmed)
	return e.out(), nil
}

// UnmarshalBinary decodes b into the PairingConfirmation, replacing its previous value.
func (m *PairingConfirmation) UnmarshalBinary(b []byte) error {
	f, err := parse(b, "PairingConfirmation")
	if err != nil {
		return err
	}
	*m = PairingConfirmation{Confirmed: f.bool(1)}
	return nil
}

// ForgetDevice asks the peer to drop an association.
type ForgetDevice struct {
	DeviceID string
}

// MarshalBinary encodes the ForgetDevice in protobuf wire format.
func (m *ForgetDevice) MarshalBinary() ([]byte, error) {
	var e encoder
	e.string(1, m.DeviceID)
	return e.out(), nil
}

// UnmarshalBinary decodes b into the ForgetDevice, replacing its previous value.
func (m *ForgetDevice) UnmarshalBinary(b []byte) error {
	f, err := parse(b, "ForgetDevice")
	if err != nil {
		return err
	}
	*m = ForgetDevice{DeviceID: f.string(1)}
	return nil
}

// ForgetAck answers a ForgetDevice.
type ForgetAck struct {
	DeviceID string
	OK       bool
}

// MarshalBinary encodes the ForgetAck in protobuf wire format.
func (m *ForgetAck) MarshalBinary() ([]byte, error) {
	var e encoder
	e.string(1, m.DeviceID)
	e.bool(2, m.OK)
	return e.out(), nil
}

// UnmarshalBinary decodes b into the ForgetAck, replacing its previous value.
func (m *ForgetAck) UnmarshalBinary(b []byte) error {
	f, err := parse(b, "ForgetAck")
	if err != nil {
		return err
	}
	*m = ForgetAck{DeviceID: f.string(1), OK: f.bool(2)}
	return nil
}
