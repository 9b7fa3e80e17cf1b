package command

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// LengthPrefixSize is the size of the record length prefix in bytes.
const LengthPrefixSize = 4

// Decoding errors.
var (
	ErrRecordTruncated = errors.New("command record truncated")
	ErrUnknownOpcode   = errors.New("unknown opcode")
)

// encMode is the CBOR encoder mode for commands.
// Configured for deterministic encoding with integer keys so that equal
// command sequences encode to equal bytes.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for commands.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create command CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		IndefLength:       cbor.IndefLengthForbidden,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create command CBOR decoder mode: %v", err))
	}
}

// EncodeRecord encodes cmd as one length-prefixed record padded to align bytes.
func EncodeRecord(cmd Command, align int) ([]byte, error) {
	body, err := encMode.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s command: %w", cmd.Op, err)
	}
	size := LengthPrefixSize + len(body)
	if align > 1 {
		size = (size + align - 1) / align * align
	}
	rec := make([]byte, size)
	binary.BigEndian.PutUint32(rec, uint32(len(body)))
	copy(rec[LengthPrefixSize:], body)
	return rec, nil
}

// Decode walks a buffer of records produced with the given alignment.
// Trailing zero bytes (page padding) are ignored.
func Decode(data []byte, align int) ([]Command, error) {
	var out []Command
	off := 0
	for off+LengthPrefixSize <= len(data) {
		n := int(binary.BigEndian.Uint32(data[off:]))
		if n == 0 {
			// Zero length marks padding; the rest of the buffer is filler.
			break
		}
		start := off + LengthPrefixSize
		if start+n > len(data) {
			return out, fmt.Errorf("%w: record at offset %d needs %d B, %d B left",
				ErrRecordTruncated, off, n, len(data)-start)
		}
		var cmd Command
		if err := decMode.Unmarshal(data[start:start+n], &cmd); err != nil {
			return out, fmt.Errorf("failed to decode record at offset %d: %w", off, err)
		}
		if cmd.Op.String() == "UNKNOWN" {
			return out, fmt.Errorf("%w: %d at offset %d", ErrUnknownOpcode, cmd.Op, off)
		}
		out = append(out, cmd)

		size := LengthPrefixSize + n
		if align > 1 {
			size = (size + align - 1) / align * align
		}
		off += size
	}
	return out, nil
}
