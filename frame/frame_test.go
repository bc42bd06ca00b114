package frame

import (
	"bytes"
	"encoding/binary"
	"net"
	"strings"
	"testing"

	"github.com/cyberinferno/socketnet/encoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

type record struct {
	ID     int64
	Name   string
	Scores []float64
	Meta   map[string]string
}

type blob struct {
	Text   string
	Values []int64
}

func testRecord() record {
	return record{
		ID:     7,
		Name:   "peer",
		Scores: []float64{1.5, 2.25},
		Meta:   map[string]string{"region": "eu"},
	}
}

// rawFrame assembles a frame by hand so tests can produce malformed input.
func rawFrame(t *testing.T, h Header, body []byte) []byte {
	t.Helper()

	hb, err := msgpack.Marshal(&h)
	require.NoError(t, err)

	out := make([]byte, PrefixLen)
	binary.BigEndian.PutUint32(out, uint32(len(hb)))
	out = append(out, hb...)
	return append(out, body...)
}

func TestCodec_RoundTrip(t *testing.T) {
	codec := NewCodec(nil, Limits{})

	for _, name := range []string{encoder.Simple, encoder.Advanced} {
		for _, compress := range []bool{false, true} {
			opts := SendOptions{Encoder: name, Compress: compress}
			t.Run(name, func(t *testing.T) {
				var buf bytes.Buffer
				_, err := codec.WriteFrame(&buf, testRecord(), opts)
				require.NoError(t, err)

				msg, err := codec.ReadFrame(&buf)
				require.NoError(t, err)
				assert.Equal(t, name, msg.Header.EncoderName)
				assert.Equal(t, compress, msg.Header.Compressed)
				assert.False(t, msg.Header.PreEncoded)
				assert.Equal(t, DefaultTransmissionType, msg.Header.TransmissionType)

				var out record
				require.NoError(t, msg.Decode(&out))
				assert.Equal(t, testRecord(), out)
				assert.Zero(t, buf.Len())
			})
		}
	}
}

func TestCodec_PreEncoded(t *testing.T) {
	codec := NewCodec(nil, Limits{})
	raw := []byte{0x00, 0x01, 0xfe, 0xff, 'x'}

	for _, compress := range []bool{false, true} {
		var buf bytes.Buffer
		_, err := codec.WriteFrame(&buf, raw, SendOptions{Compress: compress})
		require.NoError(t, err)

		msg, err := codec.ReadFrame(&buf)
		require.NoError(t, err)
		assert.True(t, msg.Header.PreEncoded)
		assert.Equal(t, raw, msg.Bytes())

		var out []byte
		require.NoError(t, msg.Decode(&out))
		assert.Equal(t, raw, out)

		var wrong record
		assert.ErrorIs(t, msg.Decode(&wrong), ErrDecoding)
	}
}

func TestCodec_WireLayout(t *testing.T) {
	codec := NewCodec(nil, Limits{})
	data, err := codec.Encode([]byte("body"), SendOptions{Encoder: encoder.Advanced, TransmissionType: "ping"})
	require.NoError(t, err)

	headerLen := binary.BigEndian.Uint32(data[:PrefixLen])
	require.Equal(t, len(data), PrefixLen+int(headerLen)+4)

	var h Header
	require.NoError(t, msgpack.Unmarshal(data[PrefixLen:PrefixLen+int(headerLen)], &h))
	assert.Equal(t, Header{
		BodySize:         4,
		PreEncoded:       true,
		EncoderName:      encoder.Advanced,
		TransmissionType: "ping",
	}, h)
	assert.Equal(t, "body", string(data[PrefixLen+int(headerLen):]))
}

func TestCodec_LargeCompressedPayload(t *testing.T) {
	codec := NewCodec(nil, Limits{})
	in := blob{
		Text:   strings.Repeat("socketnet ", 1<<20),
		Values: make([]int64, 1024),
	}

	plain, err := codec.Encode(in, SendOptions{})
	require.NoError(t, err)
	packed, err := codec.Encode(in, SendOptions{Compress: true})
	require.NoError(t, err)
	assert.Less(t, len(packed), len(plain))

	msg, err := codec.ReadFrame(bytes.NewReader(packed))
	require.NoError(t, err)
	assert.Equal(t, len(packed), msg.WireSize)

	var out blob
	require.NoError(t, msg.Decode(&out))
	assert.Equal(t, in, out)
}

func TestCodec_Encode_Errors(t *testing.T) {
	codec := NewCodec(nil, Limits{MaxHeaderBytes: 64})

	t.Run("unknown encoder", func(t *testing.T) {
		_, err := codec.Encode(testRecord(), SendOptions{Encoder: "pickle"})
		assert.ErrorIs(t, err, ErrEncoding)
		assert.ErrorIs(t, err, encoder.ErrUnknownEncoder)
	})

	t.Run("unserializable value", func(t *testing.T) {
		_, err := codec.Encode(make(chan int), SendOptions{})
		assert.ErrorIs(t, err, ErrEncoding)
	})

	t.Run("header over limit", func(t *testing.T) {
		_, err := codec.Encode([]byte("x"), SendOptions{TransmissionType: strings.Repeat("t", 128)})
		assert.ErrorIs(t, err, ErrEncoding)
	})

	t.Run("body over limit", func(t *testing.T) {
		small := NewCodec(nil, Limits{MaxBodyBytes: 8})
		_, err := small.Encode(make([]byte, 9), SendOptions{})
		assert.ErrorIs(t, err, ErrEncoding)
	})
}

func TestCodec_ReadFrame_Errors(t *testing.T) {
	codec := NewCodec(nil, Limits{})

	t.Run("empty stream", func(t *testing.T) {
		_, err := codec.ReadFrame(bytes.NewReader(nil))
		assert.ErrorIs(t, err, ErrTransportClosed)
	})

	t.Run("truncated body", func(t *testing.T) {
		data, err := codec.Encode(testRecord(), SendOptions{})
		require.NoError(t, err)

		_, err = codec.ReadFrame(bytes.NewReader(data[:len(data)-3]))
		assert.ErrorIs(t, err, ErrTransportClosed)
	})

	t.Run("zero header length", func(t *testing.T) {
		_, err := codec.ReadFrame(bytes.NewReader([]byte{0, 0, 0, 0}))
		assert.ErrorIs(t, err, ErrDecoding)
	})

	t.Run("header length over limit", func(t *testing.T) {
		_, err := codec.ReadFrame(bytes.NewReader([]byte{0, 0, 0x10, 0}))
		assert.ErrorIs(t, err, ErrDecoding)
	})

	t.Run("garbage header", func(t *testing.T) {
		_, err := codec.ReadFrame(bytes.NewReader([]byte{0, 0, 0, 2, 0xc1, 0xc1}))
		assert.ErrorIs(t, err, ErrDecoding)
	})

	t.Run("unknown encoder in header", func(t *testing.T) {
		data := rawFrame(t, Header{BodySize: 1, EncoderName: "pickle"}, []byte{1})
		_, err := codec.ReadFrame(bytes.NewReader(data))
		assert.ErrorIs(t, err, ErrDecoding)
		assert.ErrorIs(t, err, encoder.ErrUnknownEncoder)
	})

	t.Run("body size over limit", func(t *testing.T) {
		small := NewCodec(nil, Limits{MaxBodyBytes: 4})
		data := rawFrame(t, Header{BodySize: 5, EncoderName: encoder.Simple}, []byte("12345"))
		_, err := small.ReadFrame(bytes.NewReader(data))
		assert.ErrorIs(t, err, ErrDecoding)
	})

	t.Run("corrupt compressed body", func(t *testing.T) {
		data := rawFrame(t, Header{BodySize: 5, Compressed: true, EncoderName: encoder.Simple}, []byte("hello"))
		_, err := codec.ReadFrame(bytes.NewReader(data))
		assert.ErrorIs(t, err, ErrDecoding)
	})

	t.Run("decompression bomb", func(t *testing.T) {
		big := NewCodec(nil, Limits{})
		data, err := big.Encode(make([]byte, 4096), SendOptions{Compress: true})
		require.NoError(t, err)

		small := NewCodec(nil, Limits{MaxBodyBytes: 1024})
		_, err = small.ReadFrame(bytes.NewReader(data))
		assert.ErrorIs(t, err, ErrDecoding)
	})
}

func TestCodec_StreamOfFrames(t *testing.T) {
	codec := NewCodec(nil, Limits{})
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		for i := 0; i < 3; i++ {
			_, _ = codec.WriteFrame(client, testRecord(), SendOptions{Encoder: encoder.Advanced, Compress: i%2 == 1})
		}
		_ = client.Close()
	}()

	for i := 0; i < 3; i++ {
		msg, err := codec.ReadFrame(server)
		require.NoError(t, err)

		var out record
		require.NoError(t, msg.Decode(&out))
		assert.Equal(t, testRecord(), out)
	}

	_, err := codec.ReadFrame(server)
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestNewCodec_Defaults(t *testing.T) {
	codec := NewCodec(nil, Limits{})
	assert.Equal(t, DefaultLimits(), codec.Limits())

	custom := NewCodec(encoder.NewRegistry(), Limits{MaxHeaderBytes: 512})
	assert.Equal(t, uint32(512), custom.Limits().MaxHeaderBytes)
	assert.Equal(t, DefaultLimits().MaxBodyBytes, custom.Limits().MaxBodyBytes)
}
