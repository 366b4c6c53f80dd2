package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/ugorji/go/codec"
)

// ErrUnknownCodec is returned by CodecByName for unsupported names
var ErrUnknownCodec = errors.New("protocol: unknown codec")

// Frame is a decoded message whose payload is not yet decoded
type Frame struct {
	Event Event
	ID    uint64
	Data  []byte
}

// Codec encodes frames for one wire format
type Codec interface {
	// Name is the value of the codec query parameter
	Name() string
	// Binary reports whether frames are sent as binary websocket messages
	Binary() bool
	// Marshal encodes a frame with payload v, nil v yields empty data
	Marshal(event Event, id uint64, v any) ([]byte, error)
	// Unmarshal decodes the frame envelope
	Unmarshal(b []byte) (*Frame, error)
	// DecodeData decodes a frame payload into v
	DecodeData(data []byte, v any) error
}

// CodecByName returns the codec for name, JSON for the empty name
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", JSON.Name():
		return JSON, nil
	case Msgpack.Name():
		return Msgpack, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// Available codecs
var (
	JSON    Codec = jsonCodec{}
	Msgpack Codec = msgpackCodec{}
)

type jsonFrame struct {
	Event Event           `json:"event"`
	ID    uint64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Marshal(event Event, id uint64, v any) ([]byte, error) {
	f := jsonFrame{Event: event, ID: id}
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", event, err)
		}
		f.Data = b
	}
	return json.Marshal(f)
}

func (jsonCodec) Unmarshal(b []byte) (*Frame, error) {
	var f jsonFrame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return &Frame{Event: f.Event, ID: f.ID, Data: f.Data}, nil
}

func (jsonCodec) DecodeData(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

var msgpackHandle = newMsgpackHandle()

func newMsgpackHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.MapType = reflect.TypeOf(map[string]any(nil))
	h.RawToString = true
	h.WriteExt = true
	return h
}

// payload is nested as msgpack bytes so the envelope can be decoded first
type msgpackFrame struct {
	Event Event  `codec:"event"`
	ID    uint64 `codec:"id,omitempty"`
	Data  []byte `codec:"data,omitempty"`
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) Binary() bool { return true }

func (msgpackCodec) Marshal(event Event, id uint64, v any) ([]byte, error) {
	f := msgpackFrame{Event: event, ID: id}
	if v != nil {
		if err := codec.NewEncoderBytes(&f.Data, msgpackHandle).Encode(v); err != nil {
			return nil, fmt.Errorf("marshal %s: %w", event, err)
		}
	}
	var b []byte
	if err := codec.NewEncoderBytes(&b, msgpackHandle).Encode(&f); err != nil {
		return nil, err
	}
	return b, nil
}

func (msgpackCodec) Unmarshal(b []byte) (*Frame, error) {
	var f msgpackFrame
	if err := codec.NewDecoderBytes(b, msgpackHandle).Decode(&f); err != nil {
		return nil, err
	}
	return &Frame{Event: f.Event, ID: f.ID, Data: f.Data}, nil
}

func (msgpackCodec) DecodeData(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return codec.NewDecoderBytes(data, msgpackHandle).Decode(v)
}
