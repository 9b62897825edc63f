package wa

import (
	"context"
	"sync"
	"time"
)

// Throttle combines a sliding-window request cap with a minimum spacing
// between consecutive requests. Wait blocks until a slot is available, so
// callers queue instead of erroring when the channel API budget is spent.
//
// Safe for concurrent use.
type Throttle struct {
	limit    int
	window   time.Duration
	minGap   time.Duration
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
	mu       sync.Mutex
	stamps   []time.Time
	lastAt   time.Time
	waited   uint64
	admitted uint64
}

// NewThrottle builds a throttle admitting at most limit requests per rolling
// window, with at least minGap between consecutive admissions. limit <= 0
// disables the window check; minGap <= 0 disables spacing.
func NewThrottle(limit int, window, minGap time.Duration) *Throttle {
	return &Throttle{
		limit:  limit,
		window: window,
		minGap: minGap,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Wait blocks until the caller may proceed, or until ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	for {
		d, ok := t.tryAdmit()
		if ok {
			return nil
		}
		if err := t.sleep(ctx, d); err != nil {
			return err
		}
	}
}

// tryAdmit admits immediately when possible; otherwise it returns how long to
// wait before retrying.
func (t *Throttle) tryAdmit() (time.Duration, bool) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.limit > 0 && t.window > 0 {
		cutoff := now.Add(-t.window)
		keep := t.stamps[:0]
		for _, s := range t.stamps {
			if s.After(cutoff) {
				keep = append(keep, s)
			}
		}
		t.stamps = keep

		if len(t.stamps) >= t.limit {
			t.waited++
			return t.stamps[0].Sub(cutoff), false
		}
	}

	if t.minGap > 0 && !t.lastAt.IsZero() {
		if since := now.Sub(t.lastAt); since < t.minGap {
			t.waited++
			return t.minGap - since, false
		}
	}

	if t.limit > 0 && t.window > 0 {
		t.stamps = append(t.stamps, now)
	}
	t.lastAt = now
	t.admitted++
	return 0, true
}

// Stats reports admissions and waits since process start.
func (t *Throttle) Stats() (admitted, waited uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.admitted, t.waited
}
