// Package jsonx is the JSON codec used for cache entries, assignment events
// and CLI output. It is backed by Sonic.
package jsonx

import (
	"io"

	"github.com/bytedance/sonic"
)

// Map keys are sorted so payloads are byte-stable across runs.
var api = sonic.Config{
	EscapeHTML:     false,
	SortMapKeys:    true,
	UseInt64:       true,
	CopyString:     true,
	ValidateString: true,
}.Froze()

// Marshal returns the JSON encoding of v.
func Marshal(v interface{}) ([]byte, error) {
	return api.Marshal(v)
}

// MarshalIndent is Marshal with two-space indentation, for humans.
func MarshalIndent(v interface{}) ([]byte, error) {
	return api.MarshalIndent(v, "", "  ")
}

// Unmarshal parses data into v.
func Unmarshal(data []byte, v interface{}) error {
	return api.Unmarshal(data, v)
}

// NewDecoder returns a streaming decoder reading from r.
func NewDecoder(r io.Reader) sonic.Decoder {
	return api.NewDecoder(r)
}

// NewEncoder returns an encoder writing indented JSON to w.
func NewEncoder(w io.Writer) sonic.Encoder {
	enc := api.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc
}

// Valid reports whether data is valid JSON.
func Valid(data []byte) bool {
	return api.Valid(data)
}
