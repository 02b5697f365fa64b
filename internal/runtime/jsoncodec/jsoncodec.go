package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	return enc.Encode(v)
}

func Decode(r io.Reader, v any) error {
	dec := defaultConfig.NewDecoder(r)
	return dec.Decode(v)
}

// DecodeAs unmarshals data into a fresh T. Empty input yields the zero value.
func DecodeAs[T any](data []byte) (T, error) {
	var out T
	if len(data) == 0 {
		return out, nil
	}
	err := defaultConfig.Unmarshal(data, &out)
	return out, err
}

// Convert re-encodes in as out, for example to turn a generic map decoded from
// a wire envelope into a typed request.
func Convert(in, out any) error {
	data, err := defaultConfig.Marshal(in)
	if err != nil {
		return err
	}
	return defaultConfig.Unmarshal(data, out)
}
