package dsp

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Canceller is polled by workers between tasks. A true return stops the
// remaining tasks from being started; tasks already running finish.
type Canceller interface {
	Stopped() bool
}

// ChannelFunc processes one coarse channel. worker identifies the calling
// goroutine in [0, workers) so callers can keep per-worker scratch state.
type ChannelFunc func(ctx context.Context, worker, channel int) error

// ParallelChannels runs fn for every channel in order over a fixed pool of
// workers. Channels are independent: fn must only write state owned by its
// channel. It returns the first error from fn, ctx.Err() on cancellation, or
// errStopped when stop reports true before all channels are dispatched.
func ParallelChannels(ctx context.Context, order []int, workers int, stop Canceller, errStopped error, fn ChannelFunc) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(order) {
		workers = len(order)
	}
	if workers == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	jobs := make(chan int)

	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for c := range jobs {
				if err := fn(ctx, w, c); err != nil {
					return err
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		for _, c := range order {
			if stop != nil && stop.Stopped() {
				return errStopped
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case jobs <- c:
			}
		}
		return nil
	})

	return g.Wait()
}

// Sequence returns the channel order 0..n-1.
func Sequence(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}
