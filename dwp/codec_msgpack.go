package dwp

import "github.com/vmihailenco/msgpack/v5"

// MsgpackCodec encodes frames as MessagePack binary messages. Frame.Data
// stays JSON inside the envelope.
type MsgpackCodec struct{}

// Encode implements Codec.
func (c *MsgpackCodec) Encode(frame *Frame) ([]byte, error) { return msgpack.Marshal(frame) }

// Decode implements Codec.
func (c *MsgpackCodec) Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Name implements Codec.
func (c *MsgpackCodec) Name() string { return CodecNameMsgpack }
