package backoff

import (
	"context"
	"testing"
	"time"
)

func TestSequenceGrowsAndCaps(t *testing.T) {
	t.Parallel()
	s := NewSequence(Config{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
		MaxRetries:   5,
	})

	want := []time.Duration{10, 20, 40, 50, 50}
	for i, w := range want {
		got := s.Next()
		if got != w*time.Millisecond {
			t.Errorf("attempt %d: Next() = %v, want %v", i, got, w*time.Millisecond)
		}
	}
	if !s.Exhausted() {
		t.Errorf("Exhausted() = false after %d attempts, want true", s.Attempt())
	}
}

func TestSequenceResetRestoresInitialDelay(t *testing.T) {
	t.Parallel()
	s := NewSequence(Config{InitialDelay: 5 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0})
	s.Next()
	s.Next()
	s.Reset()
	if got := s.Next(); got != 5*time.Millisecond {
		t.Errorf("Next() after Reset = %v, want 5ms", got)
	}
	if s.Attempt() != 1 {
		t.Errorf("Attempt() after Reset+Next = %d, want 1", s.Attempt())
	}
}

func TestSequenceUnlimitedRetriesNeverExhausted(t *testing.T) {
	t.Parallel()
	s := NewSequence(Config{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1.0})
	for i := 0; i < 1000; i++ {
		s.Next()
	}
	if s.Exhausted() {
		t.Errorf("Exhausted() = true with MaxRetries=0, want false")
	}
}

func TestSleepReturnsFalseOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if Sleep(ctx, time.Second) {
		t.Errorf("Sleep() = true with cancelled context, want false")
	}
}

func TestSleepReturnsTrueOnElapsed(t *testing.T) {
	t.Parallel()
	if !Sleep(context.Background(), time.Millisecond) {
		t.Errorf("Sleep() = false, want true")
	}
}
