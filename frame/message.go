package frame

import (
	"fmt"

	"github.com/cyberinferno/socketnet/encoder"
)

// Message is one received frame with its body already decompressed.
type Message struct {
	Header Header
	// WireSize is the number of bytes the frame occupied on the stream.
	WireSize int

	body []byte
	enc  encoder.Encoder
}

// Bytes returns the body as received, after decompression. For pre-encoded
// messages these are exactly the bytes the sender supplied.
func (m *Message) Bytes() []byte {
	return m.body
}

// Decode stores the message into v. A pre-encoded body can only be decoded
// into a *[]byte and is copied verbatim; any other body is unmarshaled with
// the encoder named in the header.
func (m *Message) Decode(v any) error {
	if m.Header.PreEncoded {
		dst, ok := v.(*[]byte)
		if !ok {
			return fmt.Errorf("%w: pre-encoded body needs *[]byte, got %T", ErrDecoding, v)
		}

		*dst = append((*dst)[:0], m.body...)
		return nil
	}

	if err := m.enc.Unmarshal(m.body, v); err != nil {
		return fmt.Errorf("%w: %s unmarshal: %w", ErrDecoding, m.enc.Name(), err)
	}

	return nil
}
