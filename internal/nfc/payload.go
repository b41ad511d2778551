package nfc

import (
	"errors"
	"fmt"

	"coldsign/internal/psram"
	"coldsign/internal/scale"
)

// Payload tags, the first byte of the encoded data.
const (
	TagStop        = 0
	TagAddress     = 2
	TagTransaction = 3
)

// keyPrefix marks a sr25519 public key.
const keyPrefix = 1

var (
	// ErrPayloadFormat is returned when a complete message does not parse.
	ErrPayloadFormat = errors.New("nfc: malformed payload")
	// ErrKeyMismatch is returned when a transaction names another signer.
	ErrKeyMismatch = errors.New("nfc: transaction is not addressed to this device")
)

// ResultKind tells what the host asked for.
type ResultKind uint8

const (
	ResultStop ResultKind = iota
	ResultAddress
	ResultTransaction
)

func (k ResultKind) String() string {
	switch k {
	case ResultStop:
		return "stop"
	case ResultAddress:
		return "address"
	case ResultTransaction:
		return "transaction"
	default:
		return fmt.Sprintf("ResultKind(%d)", uint8(k))
	}
}

// Transaction is a signing request left in external memory.
type Transaction struct {
	GenesisHash [32]byte
	Metadata    *psram.CheckedMetadata
	// Payload is the signable call data.
	Payload psram.Access
}

// Result is the outcome of one complete message.
type Result struct {
	Kind        ResultKind
	Transaction *Transaction
}

// parsePayload interprets the message in acc. An unknown tag yields a nil
// result and no error.
func parsePayload(d *psram.Device, acc psram.Access, key [32]byte) (*Result, error) {
	n, pos, err := d.FindCompact(acc, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: length prefix: %v", ErrPayloadFormat, err)
	}
	data, err := acc.Sub(pos, int(n))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadFormat, err)
	}
	tag, err := d.ReadSlice(data, 0, 1)
	if err != nil {
		return nil, fmt.Errorf("%w: tag: %v", ErrPayloadFormat, err)
	}

	switch tag[0] {
	case TagStop:
		return &Result{Kind: ResultStop}, nil
	case TagAddress:
		return &Result{Kind: ResultAddress}, nil
	case TagTransaction:
		tx, err := parseTransaction(d, data, key)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: ResultTransaction, Transaction: tx}, nil
	}
	return nil, nil
}

// parseTransaction reads tag, genesis hash, compact-prefixed metadata,
// compact-prefixed call data and the signer key.
func parseTransaction(d *psram.Device, data psram.Access, key [32]byte) (*Transaction, error) {
	var tx Transaction
	hash, err := d.ReadSlice(data, 1, len(tx.GenesisHash))
	if err != nil {
		return nil, fmt.Errorf("%w: genesis hash: %v", ErrPayloadFormat, err)
	}
	copy(tx.GenesisHash[:], hash)

	meta, pos, err := compactSlice(d, data, 1+len(tx.GenesisHash))
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrPayloadFormat, err)
	}
	if tx.Metadata, err = psram.ReadCheckedMetadata(d, meta); err != nil {
		return nil, err
	}

	if tx.Payload, pos, err = compactSlice(d, data, pos); err != nil {
		return nil, fmt.Errorf("%w: call data: %v", ErrPayloadFormat, err)
	}

	signer, err := d.ReadSlice(data, pos, 1+len(key))
	if err != nil {
		return nil, fmt.Errorf("%w: signer: %v", ErrPayloadFormat, err)
	}
	if signer[0] != keyPrefix || [32]byte(signer[1:]) != key {
		return nil, ErrKeyMismatch
	}
	return &tx, nil
}

// compactSlice returns the compact-prefixed byte string at pos and the
// position after it.
func compactSlice(d *psram.Device, acc psram.Access, pos int) (psram.Access, int, error) {
	n, next, err := d.FindCompact(acc, pos)
	if err != nil {
		return psram.Access{}, 0, err
	}
	sub, err := acc.Sub(next, int(n))
	if err != nil {
		return psram.Access{}, 0, err
	}
	return sub, next + int(n), nil
}

// EncodeStop builds the message that stops the device.
func EncodeStop() []byte {
	return scale.AppendBytes(nil, []byte{TagStop})
}

// EncodeAddressRequest builds the message asking the device to show its key.
func EncodeAddressRequest() []byte {
	return scale.AppendBytes(nil, []byte{TagAddress})
}

// EncodeTransaction builds a signing request for signer.
func EncodeTransaction(genesis [32]byte, metadata, call []byte, signer [32]byte) []byte {
	data := []byte{TagTransaction}
	data = append(data, genesis[:]...)
	data = scale.AppendBytes(data, metadata)
	data = scale.AppendBytes(data, call)
	data = append(data, keyPrefix)
	data = append(data, signer[:]...)
	return scale.AppendBytes(nil, data)
}
