package stream

import "time"

// backoff is the retry delay schedule for failed receives: the first delay is
// initial, each following one doubles, never exceeding max.
type backoff struct {
	initial time.Duration
	max     time.Duration
	cur     time.Duration
}

func newBackoff(initial, max time.Duration) backoff {
	if initial <= 0 {
		initial = time.Millisecond
	}
	if max < initial {
		max = initial
	}
	return backoff{initial: initial, max: max, cur: initial}
}

// next returns the delay to wait now and advances the schedule.
func (b *backoff) next() time.Duration {
	d := b.cur
	if b.cur > b.max/2 {
		b.cur = b.max
	} else {
		b.cur *= 2
	}
	return d
}

func (b *backoff) reset() {
	b.cur = b.initial
}
