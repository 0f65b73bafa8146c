package payload

// InitiateMnemonicKeyGen starts a distributed key generation for a group.
type InitiateMnemonicKeyGen struct {
	GroupID      string
	SecretNumber int64
}

// MarshalBinary encodes the InitiateMnemonicKeyGen in protobuf wire format.
func (m *InitiateMnemonicKeyGen) MarshalBinary() ([]byte, error) {
	var e encoder
	e.string(1, m.GroupID)
	e.int64(2, m.SecretNumber)
	return e.out(), nil
}

// UnmarshalBinary decodes b into the InitiateMnemonicKeyGen, replacing its previous value.
func (m *InitiateMnemonicKeyGen) UnmarshalBinary(b []byte) error {
	f, err := parse(b, "InitiateMnemonicKeyGen")
	if err != nil {
		return err
	}
	*m = InitiateMnemonicKeyGen{GroupID: f.string(1), SecretNumber: f.int64(2)}
	return nil
}

// InitiatePaillierKeyGen starts Paillier key generation for a group.
type InitiatePaillierKeyGen struct {
	GroupID string
}

// MarshalBinary encodes the InitiatePaillierKeyGen in protobuf wire format.
func (m *InitiatePaillierKeyGen) MarshalBinary() ([]byte, error) {
	var e encoder
	e.string(1, m.GroupID)
	return e.out(), nil
}

// UnmarshalBinary decodes b into the InitiatePaillierKeyGen, replacing its previous value.
func (m *InitiatePaillierKeyGen) UnmarshalBinary(b []byte) error {
	f, err := parse(b, "InitiatePaillierKeyGen")
	if err != nil {
		return err
	}
	*m = InitiatePaillierKeyGen{GroupID: f.string(1)}
	return nil
}

// GroupData carries opaque per-group material: stored keys, group data and
// identity keys all share this shape.
type GroupData struct {
	GroupID string
	Data    []byte
}

// MarshalBinary encodes the GroupData in protobuf wire format.
func (m *GroupData) MarshalBinary() ([]byte, error) {
	var e encoder
	e.string(1, m.GroupID)
	e.bytes(2, m.Data)
	return e.out(), nil
}

// UnmarshalBinary decodes b into the GroupData, replacing its previous value.
func (m *GroupData) UnmarshalBinary(b []byte) error {
	f, err := parse(b, "GroupData")
	if err != nil {
		return err
	}
	*m = GroupData{GroupID: f.string(1), Data: f.bytes(2)}
	return nil
}

// ExchangeMessage is one protocol round message.
type ExchangeMessage struct {
	GroupID string
	Msg     []byte
}

// MarshalBinary encodes the ExchangeMessage in protobuf wire format.
func (m *ExchangeMessage) MarshalBinary() ([]byte, error) {
	var e encoder
	e.string(1, m.GroupID)
	e.bytes(2, m.Msg)
	return e.out(), nil
}

// UnmarshalBinary decodes b into the ExchangeMessage, replacing its previous value.
func (m *ExchangeMessage) UnmarshalBinary(b []byte) error {
	f, err := parse(b, "ExchangeMessage")
	if err != nil {
		return err
	}
	*m = ExchangeMessage{GroupID: f.string(1), Msg: f.bytes(2)}
	return nil
}

// SigningRequest starts a threshold signing job.
type SigningRequest struct {
	GroupID        string
	RequestID      string
	Message        []byte
	DerivationPath string
}

// MarshalBinary encodes the SigningRequest in protobuf wire format.
func (m *SigningRequest) MarshalBinary() ([]byte, error) {
	var e encoder
	e.string(1, m.GroupID)
	e.string(2, m.RequestID)
	e.bytes(3, m.Message)
	e.string(4, m.DerivationPath)
	return e.out(), nil
}

// UnmarshalBinary decodes b into the SigningRequest, replacing its previous value.
func (m *SigningRequest) UnmarshalBinary(b []byte) error {
	f, err := parse(b, "SigningRequest")
	if err != nil {
		return err
	}
	*m = SigningRequest{
		GroupID:        f.string(1),
		RequestID:      f.string(2),
		Message:        f.bytes(3),
		DerivationPath: f.string(4),
	}
	return nil
}

// KeygenError reports a failed job.
type KeygenError struct {
	GroupID string
	Code    string
	Message string
}

// MarshalBinary encodes the KeygenError in protobuf wire format.
func (m *KeygenError) MarshalBinary() ([]byte, error) {
	var e encoder
	e.string(1, m.GroupID)
	e.string(2, m.Code)
	e.string(3, m.Message)
	return e.out(), nil
}

// UnmarshalBinary decodes b into the KeygenError, replacing its previous value.
func (m *KeygenError) UnmarshalBinary(b []byte) error {
	f, err := parse(b, "KeygenError")
	if err != nil {
		return err
	}
	*m = KeygenError{GroupID: f.string(1), Code: f.string(2), Message: f.string(3)}
	return nil
}

// KeygenAbort cancels a group's job.
type KeygenAbort struct {
	GroupID string
	Reason  string
}

// MarshalBinary encodes the KeygenAbort in protobuf wire format.
func (m *KeygenAbort) MarshalBinary() ([]byte, error) {
	var e encoder
	e.string(1, m.GroupID)
	e.string(2, m.Reason)
	return e.out(), nil
}

// UnmarshalBinary decodes b into the KeygenAbort, replacing its previous value.
func (m *KeygenAbort) UnmarshalBinary(b []byte) error {
	f, err := parse(b, "KeygenAbort")
	if err != nil {
		return err
	}
	*m = KeygenAbort{GroupID: f.string(1), Reason: f.string(2)}
	return nil
}
