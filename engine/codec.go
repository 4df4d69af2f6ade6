package engine

import jsoniter "github.com/json-iterator/go"

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Marshal encodes an operation, message, response or state for the host.
func Marshal(v any) ([]byte, error) { return codec.Marshal(v) }

// Unmarshal decodes host bytes produced by Marshal.
func Unmarshal(data []byte, v any) error { return codec.Unmarshal(data, v) }
