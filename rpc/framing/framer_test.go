package framing

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"
)

func testPayloads() [][]byte {
	return [][]byte{
		[]byte("a"),
		[]byte("hello world"),
		bytes.Repeat([]byte{0xAB}, 1024),
		{0, 0, 0, 0},
		bytes.Repeat([]byte("xyz"), 10000),
	}
}

func concatFrames(payloads [][]byte) []byte {
	var stream []byte
	for _, p := range payloads {
		stream = AppendFrame(stream, p)
	}
	return stream
}

// feed splits the stream with split and collects all arrived payloads
func feed(t *testing.T, stream []byte, split func(remaining int) int) [][]byte {
	t.Helper()

	var got [][]byte
	f := NewLengthPrefixFramer(0)
	f.RegisterMessageArrivedCallback(func(payload []byte) {
		got = append(got, payload)
	})

	for len(stream) > 0 {
		n := split(len(stream))
		if err := f.UnframeData(stream[:n]); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		stream = stream[n:]
	}
	return got
}

func TestUnframeChunking(t *testing.T) {
	payloads := testPayloads()
	stream := concatFrames(payloads)
	rnd := rand.New(rand.NewSource(1))

	tests := []struct {
		name  string
		split func(remaining int) int
	}{
		{"AllAtOnce", func(remaining int) int { return remaining }},
		{"OneByte", func(int) int { return 1 }},
		{"ThreeBytes", func(remaining int) int { return min(3, remaining) }},
		{"Random", func(remaining int) int { return 1 + rnd.Intn(remaining) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := feed(t, stream, tt.split)
			if len(got) != len(payloads) {
				t.Fatalf("Expected %d messages, got %d", len(payloads), len(got))
			}
			for i := range payloads {
				if !bytes.Equal(got[i], payloads[i]) {
					t.Errorf("Payload %d mismatch: expected %d bytes, got %d bytes", i, len(payloads[i]), len(got[i]))
				}
			}
		})
	}
}

func TestUnframeInvalidLength(t *testing.T) {
	for _, length := range []int32{0, -1, -1 << 31} {
		f := NewLengthPrefixFramer(0)
		called := false
		f.RegisterMessageArrivedCallback(func([]byte) { called = true })

		header := binary.LittleEndian.AppendUint32(nil, uint32(length))
		err := f.UnframeData(append(header, 1, 2, 3))
		if !errors.Is(err, ErrInvalidFrameLength) {
			t.Errorf("Expected ErrInvalidFrameLength for length %d, got %v", length, err)
		}
		if called {
			t.Errorf("Callback must not be invoked for length %d", length)
		}
	}
}

func TestUnframeTooLarge(t *testing.T) {
	f := NewLengthPrefixFramer(16)
	err := f.UnframeData(AppendFrame(nil, make([]byte, 17)))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Expected ErrFrameTooLarge, got %v", err)
	}

	// after the error the framer starts with a fresh header
	var got []byte
	f.RegisterMessageArrivedCallback(func(payload []byte) { got = payload })
	if err := f.UnframeData(AppendFrame(nil, []byte("ok"))); err != nil {
		t.Fatalf("Unexpected error after reset: %v", err)
	}
	if string(got) != "ok" {
		t.Errorf("Expected payload ok, got %q", got)
	}
}

func TestFrameData(t *testing.T) {
	payload := []byte("payload")
	parts := NewLengthPrefixFramer(0).FrameData(payload)

	if len(parts) != 2 {
		t.Fatalf("Expected 2 parts, got %d", len(parts))
	}
	if binary.LittleEndian.Uint32(parts[0]) != uint32(len(payload)) {
		t.Errorf("Unexpected length prefix %v", parts[0])
	}
	if !bytes.Equal(parts[1], payload) {
		t.Errorf("Payload must be passed unchanged")
	}
	if !bytes.Equal(bytes.Join(parts, nil), AppendFrame(nil, payload)) {
		t.Errorf("FrameData and AppendFrame disagree")
	}
}

func BenchmarkUnframe(b *testing.B) {
	stream := concatFrames(testPayloads())
	f := NewLengthPrefixFramer(0)
	f.RegisterMessageArrivedCallback(func([]byte) {})

	b.SetBytes(int64(len(stream)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for chunk := stream; len(chunk) > 0; {
			n := min(4096, len(chunk))
			if err := f.UnframeData(chunk[:n]); err != nil {
				b.Fatal(err)
			}
			chunk = chunk[n:]
		}
	}
}
