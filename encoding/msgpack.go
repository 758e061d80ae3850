// Package encoding provides the serialization used for topic values and grid entries.
// Every msgpack operation goes through this package so encoders are configured the same way.
//
// Marshal and Unmarshal are safe for concurrent use.
package encoding

import (
	"bytes"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

var bufferPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Marshal encodes a value to msgpack format.
func Marshal(v any) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	enc := msgpack.NewEncoder(buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// Unmarshal decodes msgpack data using loose interface decoding.
// When decoding into interface{}, strings stay Go strings and integers widen to int64/uint64.
func Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(v)
}

// Serializer converts topic values to and from their stored binary form.
type Serializer interface {
	Serialize(v any) ([]byte, error)
	Deserialize(data []byte, v any) error
}

// MsgpackSerializer is the default Serializer.
type MsgpackSerializer struct{}

func (MsgpackSerializer) Serialize(v any) ([]byte, error) { return Marshal(v) }

func (MsgpackSerializer) Deserialize(data []byte, v any) error { return Unmarshal(data, v) }

// Raw is a value that is already msgpack encoded. Deserializing into *Raw keeps the bytes as is.
type Raw = msgpack.RawMessage
