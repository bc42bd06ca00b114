// Package frame implements the wire framing of socketnet messages.
//
// Every frame is laid out as
//
//	[4-byte big-endian header length][header][body]
//
// The header is msgpack-encoded and names the encoder used for the body, so
// a reader always knows how many header bytes to consume before it can learn
// the body size.
package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cyberinferno/socketnet/encoder"
	"github.com/klauspost/compress/zlib"
)

// PrefixLen is the size of the header length prefix.
const PrefixLen = 4

// DefaultTransmissionType tags frames sent without an explicit type.
const DefaultTransmissionType = "data_transfer"

var (
	// ErrTransportClosed is returned when the stream ends before a full frame
	// was read.
	ErrTransportClosed = errors.New("transport closed")
	// ErrEncoding is returned when a message cannot be turned into a frame.
	ErrEncoding = errors.New("encoding error")
	// ErrDecoding is returned for malformed, oversized or corrupt frames.
	ErrDecoding = errors.New("decoding error")
)

// headerEncoder serializes every header regardless of the body encoder.
var headerEncoder encoder.Encoder = encoder.MsgpackEncoder{}

// Header describes the body that follows it on the wire.
type Header struct {
	BodySize         uint64 `msgpack:"body_size"`
	Compressed       bool   `msgpack:"compressed"`
	PreEncoded       bool   `msgpack:"pre_encoded"`
	EncoderName      string `msgpack:"encoder_name"`
	TransmissionType string `msgpack:"transmission_type"`
}

// Limits guards readers and writers against oversized frames.
type Limits struct {
	// MaxHeaderBytes caps the encoded header length.
	MaxHeaderBytes uint32
	// MaxBodyBytes caps the body, both on the wire and after decompression.
	MaxBodyBytes uint64
}

// DefaultLimits returns a 256 byte header cap and a 64 MiB body cap.
func DefaultLimits() Limits {
	return Limits{
		MaxHeaderBytes: 256,
		MaxBodyBytes:   64 * 1024 * 1024,
	}
}

// SendOptions selects how a single message is framed.
type SendOptions struct {
	// Encoder names the registered encoder for the body. Empty selects
	// encoder.Simple.
	Encoder string
	// Compress runs the encoded body through zlib.
	Compress bool
	// TransmissionType is an application tag carried in the header. Empty
	// selects DefaultTransmissionType.
	TransmissionType string
}

// Codec turns messages into frames and back using a registry of encoders.
// A Codec holds no per-stream state and is safe for concurrent use.
type Codec struct {
	registry *encoder.Registry
	limits   Limits
}

// NewCodec creates a Codec. A nil registry selects encoder.Default and zero
// limits are replaced by DefaultLimits values.
func NewCodec(registry *encoder.Registry, limits Limits) *Codec {
	if registry == nil {
		registry = encoder.Default
	}

	defaults := DefaultLimits()
	if limits.MaxHeaderBytes == 0 {
		limits.MaxHeaderBytes = defaults.MaxHeaderBytes
	}

	if limits.MaxBodyBytes == 0 {
		limits.MaxBodyBytes = defaults.MaxBodyBytes
	}

	return &Codec{registry: registry, limits: limits}
}

// Limits returns the limits the codec enforces.
func (c *Codec) Limits() Limits {
	return c.limits
}

// Encode builds the complete frame for msg. A []byte message is sent
// verbatim and flagged as pre-encoded; anything else is serialized with the
// encoder named in opts.
//
// Parameters:
//   - msg: The value to send
//   - opts: Encoder, compression and transmission type selection
//
// Returns:
//   - The frame bytes
//   - An error wrapping ErrEncoding on failure
func (c *Codec) Encode(msg any, opts SendOptions) ([]byte, error) {
	name := opts.Encoder
	if name == "" {
		name = encoder.Simple
	}

	enc, err := c.registry.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}

	header := Header{
		EncoderName:      name,
		Compressed:       opts.Compress,
		TransmissionType: opts.TransmissionType,
	}
	if header.TransmissionType == "" {
		header.TransmissionType = DefaultTransmissionType
	}

	var body []byte
	if raw, ok := msg.([]byte); ok {
		body = raw
		header.PreEncoded = true
	} else {
		body, err = enc.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("%w: %s marshal: %w", ErrEncoding, name, err)
		}
	}

	if opts.Compress {
		body, err = compress(body)
		if err != nil {
			return nil, fmt.Errorf("%w: compress: %w", ErrEncoding, err)
		}
	}

	if uint64(len(body)) > c.limits.MaxBodyBytes {
		return nil, fmt.Errorf("%w: body of %d bytes exceeds limit %d", ErrEncoding, len(body), c.limits.MaxBodyBytes)
	}

	header.BodySize = uint64(len(body))
	hb, err := headerEncoder.Marshal(&header)
	if err != nil {
		return nil, fmt.Errorf("%w: header marshal: %w", ErrEncoding, err)
	}

	if uint32(len(hb)) > c.limits.MaxHeaderBytes {
		return nil, fmt.Errorf("%w: header of %d bytes exceeds limit %d", ErrEncoding, len(hb), c.limits.MaxHeaderBytes)
	}

	out := make([]byte, PrefixLen+len(hb)+len(body))
	binary.BigEndian.PutUint32(out[:PrefixLen], uint32(len(hb)))
	n := PrefixLen
	n += copy(out[n:], hb)
	copy(out[n:], body)

	return out, nil
}

// WriteFrame encodes msg and writes the frame to w in a single Write call,
// so concurrent writers serialized by the caller never interleave frames.
//
// Returns:
//   - The number of bytes written
//   - An error wrapping ErrEncoding, or the write error from w
func (c *Codec) WriteFrame(w io.Writer, msg any, opts SendOptions) (int, error) {
	data, err := c.Encode(msg, opts)
	if err != nil {
		return 0, err
	}

	return w.Write(data)
}

// ReadFrame reads exactly one frame from r.
//
// Returns:
//   - The decoded message
//   - ErrTransportClosed if r ends mid-frame, ErrDecoding for malformed
//     frames, or the underlying read error
func (c *Codec) ReadFrame(r io.Reader) (*Message, error) {
	var prefix [PrefixLen]byte
	if err := readFull(r, prefix[:]); err != nil {
		return nil, err
	}

	headerLen := binary.BigEndian.Uint32(prefix[:])
	if headerLen == 0 || headerLen > c.limits.MaxHeaderBytes {
		return nil, fmt.Errorf("%w: header length %d outside (0, %d]", ErrDecoding, headerLen, c.limits.MaxHeaderBytes)
	}

	hb := make([]byte, headerLen)
	if err := readFull(r, hb); err != nil {
		return nil, err
	}

	var header Header
	if err := headerEncoder.Unmarshal(hb, &header); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrDecoding, err)
	}

	if header.BodySize > c.limits.MaxBodyBytes {
		return nil, fmt.Errorf("%w: body size %d exceeds limit %d", ErrDecoding, header.BodySize, c.limits.MaxBodyBytes)
	}

	enc, err := c.registry.Lookup(header.EncoderName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecoding, err)
	}

	body := make([]byte, header.BodySize)
	if err := readFull(r, body); err != nil {
		return nil, err
	}

	wireSize := PrefixLen + int(headerLen) + len(body)
	if header.Compressed {
		body, err = decompress(body, c.limits.MaxBodyBytes)
		if err != nil {
			return nil, err
		}
	}

	return &Message{Header: header, WireSize: wireSize, body: body, enc: enc}, nil
}

// readFull maps a short read to ErrTransportClosed and keeps other errors
// (deadlines, closed sockets) inspectable through wrapping.
func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	if err == nil {
		return nil
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrTransportClosed, err)
	}

	return err
}

func compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompress(body []byte, limit uint64) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: zlib: %w", ErrDecoding, err)
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, int64(limit)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: zlib: %w", ErrDecoding, err)
	}

	if uint64(len(out)) > limit {
		return nil, fmt.Errorf("%w: decompressed body exceeds limit %d", ErrDecoding, limit)
	}

	return out, nil
}
