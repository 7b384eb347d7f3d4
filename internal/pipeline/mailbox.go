package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cabb/almabatch/internal/engine/batch"
	"github.com/cabb/almabatch/internal/logging"
)

// DefaultProgressTimeout bounds how long a finished run waits for the
// progress callback to take the final snapshot.
const DefaultProgressTimeout = 2 * time.Second

// ProgressFunc receives progress snapshots. It runs on its own goroutine,
// so a slow callback only ever sees the newest snapshot and never stalls
// the run.
type ProgressFunc func(batch.ProgressSnapshot)

// mailbox delivers the latest snapshot to a ProgressFunc. Posting never
// blocks: an undelivered snapshot is replaced by the newer one.
type mailbox struct {
	log     *zerolog.Logger
	fn      ProgressFunc
	timeout time.Duration
	slot    chan batch.ProgressSnapshot
	done    chan struct{}
}

func newMailbox(ctx context.Context, fn ProgressFunc, timeout time.Duration) *mailbox {
	if timeout <= 0 {
		timeout = DefaultProgressTimeout
	}
	m := &mailbox{
		log:     logging.FromContext(ctx),
		fn:      fn,
		timeout: timeout,
		slot:    make(chan batch.ProgressSnapshot, 1),
		done:    make(chan struct{}),
	}
	go m.deliver()
	return m
}

func (m *mailbox) post(s batch.ProgressSnapshot) {
	for {
		select {
		case m.slot <- s:
			return
		default:
		}
		select {
		case <-m.slot:
		default:
		}
	}
}

// close posts the final snapshot and waits, at most timeout, for delivery
// to finish.
func (m *mailbox) close(final batch.ProgressSnapshot) {
	m.post(final)
	close(m.slot)

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()
	select {
	case <-m.done:
	case <-timer.C:
		m.log.Warn().Dur("timeout", m.timeout).Msg("progress callback did not finish in time")
	}
}

func (m *mailbox) deliver() {
	defer close(m.done)
	for s := range m.slot {
		m.call(s)
	}
}

func (m *mailbox) call(s batch.ProgressSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("progress callback panicked")
		}
	}()
	m.fn(s)
}
