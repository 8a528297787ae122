package grpc

import (
	"google.golang.org/grpc/encoding"

	"github.com/eleven-am/crosslink/internal/xjson"
)

// codecName is sent as the content subtype of every handshake call. The
// health service keeps using the default proto codec.
const codecName = "crosslink-json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return xjson.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return xjson.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
