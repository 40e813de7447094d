package turn

import (
	"errors"
	"testing"
	"time"

	"github.com/satriahrh/turnloop/domain"
	"github.com/satriahrh/turnloop/domain/entities"
)

func chunk(data string, d time.Duration) entities.AudioChunk {
	return entities.AudioChunk{Data: []byte(data), Duration: d}
}

func TestBuffer_AppendWithoutRecording(t *testing.T) {
	b := NewBuffer()

	err := b.Append(chunk("a", 10*time.Millisecond))
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState, got %v", err)
	}
	if b.Len() != 0 {
		t.Errorf("Expected empty buffer, got %d chunks", b.Len())
	}
}

func TestBuffer_DrainPreservesOrder(t *testing.T) {
	b := NewBuffer()
	b.Start()

	for _, s := range []string{"a", "b", "c"} {
		if err := b.Append(chunk(s, 100*time.Millisecond)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	if b.Duration() != 300*time.Millisecond {
		t.Errorf("Expected 300ms, got %s", b.Duration())
	}
	if b.Size() != 3 {
		t.Errorf("Expected 3 bytes, got %d", b.Size())
	}

	chunks := b.Drain()
	if got := string(Concat(chunks)); got != "abc" {
		t.Errorf("Expected abc, got %q", got)
	}
	if TotalDuration(chunks) != 300*time.Millisecond {
		t.Errorf("Expected 300ms total, got %s", TotalDuration(chunks))
	}
	if b.Recording() {
		t.Error("Buffer should stop recording after drain")
	}
}

func TestBuffer_DrainIsIdempotent(t *testing.T) {
	b := NewBuffer()
	b.Start()
	_ = b.Append(chunk("a", 0))

	if got := b.Drain(); len(got) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(got))
	}

	for i := 0; i < 2; i++ {
		if got := b.Drain(); len(got) != 0 {
			t.Errorf("Drain %d: expected empty sequence, got %d chunks", i+2, len(got))
		}
	}
	if b.Recording() || b.Duration() != 0 || b.Size() != 0 {
		t.Error("Repeated drain should leave the buffer empty and idle")
	}
}

func TestBuffer_StartDropsLeftovers(t *testing.T) {
	b := NewBuffer()
	b.Start()
	_ = b.Append(chunk("old", 0))

	b.Start()
	_ = b.Append(chunk("new", 0))

	if got := string(Concat(b.Drain())); got != "new" {
		t.Errorf("Expected only the new turn's audio, got %q", got)
	}
}

func TestBuffer_Discard(t *testing.T) {
	b := NewBuffer()
	b.Start()
	_ = b.Append(chunk("a", 50*time.Millisecond))

	b.Discard()

	if b.Len() != 0 || b.Recording() {
		t.Error("Discard should empty the buffer and stop recording")
	}
}
