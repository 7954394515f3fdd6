package service

import (
	"encoding/json"

	"connectrpc.com/connect"
)

// jsonCodec carries the plain Go messages of this package. Registered under
// the name "json" it takes the place of connect's protobuf JSON codec, so
// requests use the Connect protocol with application/json bodies.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, msg)
}

func withCodec() connect.Option {
	return connect.WithCodec(jsonCodec{})
}
