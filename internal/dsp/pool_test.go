package dsp

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type stopFlag struct{ stopped atomic.Bool }

func (f *stopFlag) Stopped() bool { return f.stopped.Load() }

func TestParallelChannelsVisitsEveryChannel(t *testing.T) {
	const n = 37
	out := make([]int, n)
	err := ParallelChannels(context.Background(), Sequence(n), 4, nil, nil, func(_ context.Context, _ int, c int) error {
		out[c] = c * c
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for c := range out {
		if out[c] != c*c {
			t.Fatalf("channel %d not processed", c)
		}
	}
}

func TestParallelChannelsPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := ParallelChannels(context.Background(), Sequence(10), 3, nil, nil, func(_ context.Context, _ int, c int) error {
		if c == 4 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestParallelChannelsStopsCooperatively(t *testing.T) {
	stopErr := errors.New("stopped")
	f := &stopFlag{}
	f.stopped.Store(true)
	var calls atomic.Int32
	err := ParallelChannels(context.Background(), Sequence(10), 2, f, stopErr, func(context.Context, int, int) error {
		calls.Add(1)
		return nil
	})
	if !errors.Is(err, stopErr) {
		t.Fatalf("expected stop error, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no channels after stop, got %d", calls.Load())
	}
}

func TestParallelChannelsWorkerIndexInRange(t *testing.T) {
	const workers = 3
	var bad atomic.Int32
	_ = ParallelChannels(context.Background(), Sequence(50), workers, nil, nil, func(_ context.Context, w, _ int) error {
		if w < 0 || w >= workers {
			bad.Add(1)
		}
		return nil
	})
	if bad.Load() != 0 {
		t.Fatalf("worker index out of range %d times", bad.Load())
	}
}
