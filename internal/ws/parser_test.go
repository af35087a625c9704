package ws

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func maskedFrame(fin bool, opcode Opcode, payload []byte) []byte {
	b0 := byte(opcode)
	if fin {
		b0 |= finalBit
	}
	key := [4]byte{0xDE, 0xAD, 0xBE, 0xEF}
	var frame []byte
	switch {
	case len(payload) < 126:
		frame = []byte{b0, maskBit | byte(len(payload))}
	case len(payload) <= 0xFFFF:
		frame = []byte{b0, maskBit | 126}
		frame = binary.BigEndian.AppendUint16(frame, uint16(len(payload)))
	default:
		frame = []byte{b0, maskBit | 127}
		frame = binary.BigEndian.AppendUint64(frame, uint64(len(payload)))
	}
	frame = append(frame, key[:]...)
	for i, c := range payload {
		frame = append(frame, c^key[i%4])
	}
	return frame
}

type wsEvent struct {
	opcode  Opcode
	payload string
}

func collect(t *testing.T, chunks ...[]byte) []wsEvent {
	t.Helper()
	var events []wsEvent
	p := NewParser(func(opcode Opcode, payload []byte) {
		events = append(events, wsEvent{opcode, string(payload)})
	})
	for _, chunk := range chunks {
		n, err := p.Feed(chunk)
		if err != nil {
			t.Fatalf("Feed error: %v", err)
		}
		if n != len(chunk) {
			t.Fatalf("Expected %d consumed, got %d", len(chunk), n)
		}
	}
	return events
}

func TestParser_TextFrame(t *testing.T) {
	events := collect(t, maskedFrame(true, OpcodeText, []byte("hello")))
	if len(events) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(events))
	}
	if events[0].opcode != OpcodeText || events[0].payload != "hello" {
		t.Errorf("Got %+v", events[0])
	}
}

func TestParser_SplitAcrossFeeds(t *testing.T) {
	frame := maskedFrame(true, OpcodeBinary, bytes.Repeat([]byte{0x42}, 300))
	events := collect(t, frame[:5], frame[5:200], frame[200:])
	if len(events) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(events))
	}
	if len(events[0].payload) != 300 {
		t.Errorf("Expected 300-byte payload, got %d", len(events[0].payload))
	}
}

func TestParser_Fragmented(t *testing.T) {
	first := maskedFrame(false, OpcodeText, []byte("Hel"))
	cont := maskedFrame(true, OpcodeContinuation, []byte("lo"))
	events := collect(t, first, cont)
	if len(events) != 1 {
		t.Fatalf("Expected 1 reassembled message, got %d", len(events))
	}
	if events[0].opcode != OpcodeText || events[0].payload != "Hello" {
		t.Errorf("Got %+v", events[0])
	}
}

func TestParser_ControlBetweenFragments(t *testing.T) {
	events := collect(t,
		maskedFrame(false, OpcodeText, []byte("a")),
		maskedFrame(true, OpcodePing, []byte("hb")),
		maskedFrame(true, OpcodeContinuation, []byte("b")),
	)
	if len(events) != 2 {
		t.Fatalf("Expected ping + message, got %d events", len(events))
	}
	if events[0].opcode != OpcodePing {
		t.Errorf("Expected interleaved ping first, got %v", events[0].opcode)
	}
	if events[1].payload != "ab" {
		t.Errorf("Expected reassembled ab, got %q", events[1].payload)
	}
}

func TestParser_Errors(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"reserved bits", []byte{0xF1, 0x00}},
		{"bad opcode", []byte{0x83, 0x00}},
		{"fragmented control", []byte{0x09, 0x00}},
		{"oversized control", []byte{0x89, 126, 0x01, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser(nil)
			if _, err := p.Feed(tt.frame); err == nil {
				t.Error("Expected a protocol error")
			}
		})
	}
}

func TestAcceptKey(t *testing.T) {
	got := AcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Errorf("AcceptKey = %s, want %s", got, want)
	}
}

func TestEncodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		opcode  Opcode
		payload []byte
		header  []byte
	}{
		{"small", OpcodeText, []byte("hi"), []byte{0x81, 0x02}},
		{"medium", OpcodeBinary, bytes.Repeat([]byte{1}, 200), []byte{0x82, 126, 0x00, 0xC8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := EncodeFrame(tt.opcode, tt.payload, true)
			if !bytes.HasPrefix(frame, tt.header) {
				t.Errorf("Expected header %v, got %v", tt.header, frame[:4])
			}
			if !bytes.HasSuffix(frame, tt.payload) {
				t.Error("Expected unmasked payload")
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	// A server frame is unmasked; the parser accepts it as well.
	var got []wsEvent
	p := NewParser(func(opcode Opcode, payload []byte) {
		got = append(got, wsEvent{opcode, string(payload)})
	})
	frame := EncodeFrame(OpcodeText, []byte("round trip"), true)
	if _, err := p.Feed(frame); err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	if len(got) != 1 || got[0].payload != "round trip" {
		t.Errorf("Got %+v", got)
	}
}
