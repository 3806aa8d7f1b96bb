package codec

import (
	"bytes"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/vinayprograms/crawlkit/errors"
)

// Codec defines the serialization contract for stored values.
type Codec interface {
	// Encode serializes a value to bytes.
	Encode(v any) ([]byte, error)

	// Decode deserializes bytes into a value.
	// Empty or nil input decodes to nil.
	Decode(data []byte) (any, error)

	// Name returns the codec identifier.
	Name() string
}

// Codec names.
const (
	NameMsgpack = "msgpack"
	NamePlain   = "plain"
)

// Raw is an already-encoded value. Every codec writes it unchanged.
type Raw []byte

var (
	// Msgpack is the default codec.
	Msgpack Codec = msgpackCodec{}

	// Plain stores values in their text form and decodes to []byte.
	Plain Codec = plainCodec{}
)

// Get returns a codec by name. Defaults to Msgpack.
func Get(name string) Codec {
	if name == NamePlain {
		return Plain
	}
	return Msgpack
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return NameMsgpack }

func (msgpackCodec) Encode(v any) ([]byte, error) {
	if r, ok := v.(Raw); ok {
		return cloneBytes(r), nil
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, errors.Codec(fmt.Sprintf("msgpack encode %T", v), errors.WithCause(err))
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) Decode(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}

	// Strict decoding keeps bin values as []byte; normalize folds the
	// integer and float widths afterwards.
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	v, err := dec.DecodeInterface()
	if err != nil {
		return nil, errors.Codec("msgpack decode", errors.WithCause(err))
	}
	return normalize(v), nil
}

// normalize folds the integer widths msgpack may produce into int64, keeping
// uint64 only for values that do not fit, and widens float32 to float64.
func normalize(v any) any {
	switch t := v.(type) {
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case float32:
		return float64(t)
	case uint64:
		if t <= math.MaxInt64 {
			return int64(t)
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	default:
		return v
	}
}

type plainCodec struct{}

func (plainCodec) Name() string { return NamePlain }

func (plainCodec) Encode(v any) ([]byte, error) {
	switch t := v.(type) {
	case Raw:
		return cloneBytes(t), nil
	case []byte:
		return cloneBytes(t), nil
	case string:
		return []byte(t), nil
	case nil:
		return nil, errors.Codec("plain encode nil")
	default:
		return []byte(fmt.Sprint(t)), nil
	}
}

func (plainCodec) Decode(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return cloneBytes(data), nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
