package network

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"event":"ping"}`)

	var buffer bytes.Buffer
	if err := WriteFrame(&buffer, payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	got, err := ReadFrame(&buffer)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	payload := make([]byte, MaxFrameSize+1)
	var buffer bytes.Buffer
	if err := WriteFrame(&buffer, payload); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadFrameLimitedRejectsOversizedPayload(t *testing.T) {
	payload := make([]byte, 64)
	var buffer bytes.Buffer
	if err := WriteFrame(&buffer, payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	if _, err := readFrameLimited(&buffer, 32); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestDecodeInboundRequiresEvent(t *testing.T) {
	if _, err := DecodeInbound([]byte(`{"id":"1"}`)); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if _, err := DecodeInbound([]byte(`not json`)); err == nil {
		t.Fatalf("expected decode error for malformed payload")
	}

	in, err := DecodeInbound([]byte(`{"event":"sendMessage","id":"7","data":{"receiver":"x"}}`))
	if err != nil {
		t.Fatalf("DecodeInbound failed: %v", err)
	}
	if in.Event != "sendMessage" || in.ID != "7" || string(in.Data) != `{"receiver":"x"}` {
		t.Fatalf("unexpected inbound frame: %+v", in)
	}
}

func TestEncodeErrorShape(t *testing.T) {
	payload, err := EncodeError("42", "FORBIDDEN", "blocked")
	if err != nil {
		t.Fatalf("EncodeError failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal error frame: %v", err)
	}
	if decoded["event"] != EventError || decoded["id"] != "42" {
		t.Fatalf("unexpected error frame header: %v", decoded)
	}
	body, ok := decoded["error"].(map[string]any)
	if !ok || body["code"] != "FORBIDDEN" || body["message"] != "blocked" {
		t.Fatalf("unexpected error body: %v", decoded["error"])
	}
	if _, ok := decoded["data"]; ok {
		t.Fatalf("error frame must not carry data")
	}
}

func TestEncodeAckCarriesID(t *testing.T) {
	payload, err := EncodeAck("abc", map[string]int{"count": 3})
	if err != nil {
		t.Fatalf("EncodeAck failed: %v", err)
	}
	frame, err := DecodeFrame(payload)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if frame.Event != EventAck || frame.ID != "abc" || string(frame.Data) != `{"count":3}` {
		t.Fatalf("unexpected ack frame: %+v", frame)
	}
}
