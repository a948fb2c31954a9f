package storage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// HistoryWriter records submissions asynchronously so the grading path never
// blocks on the database. Entries are dropped, with a warning, when the
// buffer is full.
type HistoryWriter struct {
	db   *DB
	ch   chan *Submission
	wg   sync.WaitGroup
	done chan struct{}
}

func NewHistoryWriter(db *DB, bufferSize int) *HistoryWriter {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &HistoryWriter{
		db:   db,
		ch:   make(chan *Submission, bufferSize),
		done: make(chan struct{}),
	}
}

func (w *HistoryWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

func (w *HistoryWriter) Log(sub *Submission) {
	select {
	case w.ch <- sub:
	default:
		log.Warn().Str("submission_id", sub.ID).Msg("history buffer full, dropping record")
	}
}

func (w *HistoryWriter) Flush(timeout time.Duration) {
	close(w.done)

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("history writer flushed")
	case <-time.After(timeout):
		log.Warn().Msg("history writer flush timed out")
	}
}

func (w *HistoryWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case sub := <-w.ch:
			w.writeWithRetry(sub)
		case <-w.done:
			// Drain remaining entries
			for {
				select {
				case sub := <-w.ch:
					w.writeWithRetry(sub)
				default:
					return
				}
			}
		}
	}
}

func (w *HistoryWriter) writeWithRetry(sub *Submission) {
	const maxRetries = 3

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.db.LogSubmission(ctx, sub)
		cancel()

		if err == nil {
			return
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			log.Warn().
				Err(err).
				Str("submission_id", sub.ID).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("history write failed, retrying")
			time.Sleep(backoff)
		} else {
			log.Error().
				Err(err).
				Str("submission_id", sub.ID).
				Msg("history write failed permanently after retries")
		}
	}
}
