package ingest

import (
	"testing"
	"time"
)

func TestBackoffSequence(t *testing.T) {
	b := NewBackoff(5*time.Second, 60*time.Second)

	want := []time.Duration{5, 10, 20, 40, 60, 60, 60}
	for i, w := range want {
		if got := b.Next(); got != w*time.Second {
			t.Errorf("attempt %d: got %v, want %v", i, got, w*time.Second)
		}
	}

	b.Reset()
	if got := b.Next(); got != 5*time.Second {
		t.Errorf("after reset: got %v, want 5s", got)
	}
	if got := b.Next(); got != 10*time.Second {
		t.Errorf("after reset second attempt: got %v, want 10s", got)
	}
}

func TestBackoffCapBelowBase(t *testing.T) {
	b := NewBackoff(5*time.Second, time.Second)
	for i := 0; i < 3; i++ {
		if got := b.Next(); got != 5*time.Second {
			t.Errorf("got %v, want 5s", got)
		}
	}
}
