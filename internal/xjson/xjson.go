package xjson

import (
	stdjson "encoding/json"
	"io"

	gjson "github.com/goccy/go-json"
)

// Marshal/Unmarshal wrappers to allow a single import site to switch
// between standard encoding/json and goccy/go-json without touching callers.

func Marshal(v interface{}) ([]byte, error) {
	return gjson.Marshal(v)
}

func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gjson.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v interface{}) error {
	return gjson.Unmarshal(data, v)
}

// NewEncoder writes JSON values to w, used by HTTP handlers.
func NewEncoder(w io.Writer) *gjson.Encoder {
	return gjson.NewEncoder(w)
}

// RawMessage is kept compatible with encoding/json's RawMessage type.
type RawMessage = stdjson.RawMessage
