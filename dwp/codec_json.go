package dwp

import "encoding/json"

// JSONCodec encodes frames as JSON text messages.
type JSONCodec struct{}

// Encode implements Codec.
func (c *JSONCodec) Encode(frame *Frame) ([]byte, error) { return json.Marshal(frame) }

// Decode implements Codec.
func (c *JSONCodec) Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Name implements Codec.
func (c *JSONCodec) Name() string { return CodecNameJSON }
