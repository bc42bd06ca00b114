package encoder

import "github.com/vmihailenco/msgpack/v5"

// MsgpackEncoder is the "advanced" encoder: a schema-less binary map/array
// format readable from other languages. Frame headers always use it.
type MsgpackEncoder struct{}

func (MsgpackEncoder) Name() string { return Advanced }

func (MsgpackEncoder) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (MsgpackEncoder) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}
