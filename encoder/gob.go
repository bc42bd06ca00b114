package encoder

import (
	"bytes"
	"encoding/gob"
)

// GobEncoder is the "simple" encoder. Interface-typed fields need their
// concrete types registered with gob.Register by the caller.
type GobEncoder struct{}

func (GobEncoder) Name() string { return Simple }

func (GobEncoder) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (GobEncoder) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
