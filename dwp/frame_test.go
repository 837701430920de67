package dwp

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewRequestFrame(t *testing.T) {
	t.Parallel()

	frame, err := NewRequestFrame("frame-1", MethodOfferAccept, OfferRespondRequest{JobID: "job_x"})
	if err != nil {
		t.Fatalf("NewRequestFrame: %v", err)
	}
	if frame.Type != FrameRequest || frame.Method != MethodOfferAccept || frame.ID != "frame-1" {
		t.Errorf("frame = %+v", frame)
	}
	if frame.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}

	var req OfferRespondRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if req.JobID != "job_x" {
		t.Errorf("job_id = %q", req.JobID)
	}
}

func TestNewRequestFrameNoData(t *testing.T) {
	t.Parallel()

	frame, err := NewRequestFrame("frame-2", MethodOfferCurrent, nil)
	if err != nil {
		t.Fatalf("NewRequestFrame: %v", err)
	}
	if frame.Data != nil {
		t.Errorf("Data = %s, want nil", frame.Data)
	}
}

func TestNewErrorFrame(t *testing.T) {
	t.Parallel()

	frame := NewErrorFrame("req-1", ErrCodeConflict, "offer taken")
	if frame.Type != FrameErr || frame.CorrelID != "req-1" {
		t.Errorf("frame = %+v", frame)
	}
	if frame.Error == nil || frame.Error.Code != ErrCodeConflict || frame.Error.Message != "offer taken" {
		t.Errorf("Error = %+v", frame.Error)
	}
}

func TestNewEventFrame(t *testing.T) {
	t.Parallel()

	frame, err := NewEventFrame("provider:prov_1", map[string]string{"type": "offer.issued"})
	if err != nil {
		t.Fatalf("NewEventFrame: %v", err)
	}
	if frame.Type != FrameEvent || frame.Channel != "provider:prov_1" {
		t.Errorf("frame = %+v", frame)
	}
}

func TestGenerateFrameIDUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for range 1000 {
		fid := GenerateFrameID()
		if seen[fid] {
			t.Fatalf("duplicate frame id %q", fid)
		}
		seen[fid] = true
	}
}

func TestCodecs(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	in := &Frame{
		ID:        "f-1",
		Type:      FrameRequest,
		Method:    MethodOfferDecline,
		Data:      json.RawMessage(`{"job_id":"job_x"}`),
		Credits:   5,
		Timestamp: ts,
	}

	for _, codec := range []Codec{&JSONCodec{}, &MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			raw, err := codec.Encode(in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			out, err := codec.Decode(raw)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if out.ID != in.ID || out.Method != in.Method || out.Credits != in.Credits {
				t.Errorf("decoded = %+v", out)
			}
			if !out.Timestamp.Equal(ts) {
				t.Errorf("Timestamp = %v, want %v", out.Timestamp, ts)
			}
			var req OfferRespondRequest
			if err := json.Unmarshal(out.Data, &req); err != nil || req.JobID != "job_x" {
				t.Errorf("data = %s (%v)", out.Data, err)
			}
		})
	}
}

func TestCodecDecodeGarbage(t *testing.T) {
	t.Parallel()

	for _, codec := range []Codec{&JSONCodec{}, &MsgpackCodec{}} {
		if _, err := codec.Decode([]byte{0xc1, 0x00}); err == nil {
			t.Errorf("%s: expected decode error", codec.Name())
		}
	}
}

func TestGetCodec(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want string
	}{
		{"json", CodecNameJSON},
		{"msgpack", CodecNameMsgpack},
		{"", CodecNameJSON},
		{"protobuf", CodecNameJSON},
	}
	for _, tt := range tests {
		if got := GetCodec(tt.name).Name(); got != tt.want {
			t.Errorf("GetCodec(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
