// Package runner - Konsumentenschleife fuer eine Transkriptions-Session
//
// Dieses Modul enthaelt:
// - Queue: FIFO-Uebergabe ohne Backpressure (queue.go)
// - Runner: besitzt genau eine Session und fuehrt Chunks der Reihe nach aus
//
// Ein Chunk wird vollstaendig verarbeitet, bevor der naechste aus der Queue
// genommen wird. Bricht eine Session mit einem Panic ab, wird sie verworfen
// und fuer die folgenden Chunks neu erzeugt.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/moshigo/moshi/logutil"
)

// Transcriber is the part of asr.Session the runner drives.
type Transcriber interface {
	Reset()
	OnAudioChunk(pcm []float32) []string
}

// Output carries the pieces produced by one submitted chunk. Err is set when
// the session failed on that chunk and was replaced.
type Output struct {
	Chunk  int
	Pieces []string
	Err    error
}

type item struct {
	chunk int
	pcm   []float32
	reset bool
}

type Runner struct {
	newSession func() (Transcriber, error)
	queue      *Queue[*item]
	out        chan Output
	submitted  int
}

// New creates a runner. newSession is called before the first chunk and
// after every failure.
func New(newSession func() (Transcriber, error), queueWarn int) *Runner {
	return &Runner{
		newSession: newSession,
		queue:      NewQueue[*item](queueWarn),
		out:        make(chan Output, 16),
	}
}

// Submit enqueues a chunk and returns its index. It never blocks on the
// consumer. Submit must not be called concurrently with itself.
func (r *Runner) Submit(pcm []float32) (int, error) {
	if err := r.queue.Push(&item{chunk: r.submitted, pcm: pcm}); err != nil {
		return 0, err
	}
	r.submitted++
	return r.submitted - 1, nil
}

// Reset enqueues a session reset behind all chunks submitted so far.
func (r *Runner) Reset() error {
	return r.queue.Push(&item{reset: true})
}

// Close stops accepting chunks. Run drains what is queued and returns.
func (r *Runner) Close() {
	r.queue.Close()
}

// Transcripts is closed when Run returns.
func (r *Runner) Transcripts() <-chan Output {
	return r.out
}

func (r *Runner) Len() int {
	return r.queue.Len()
}

// Run consumes chunks until Close or until ctx is done. Cancelling ctx
// discards queued chunks but never interrupts a chunk in progress.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.out)

	g, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			r.queue.Close()
			return ctx.Err()
		case <-done:
			return nil
		}
	})

	g.Go(func() error {
		defer close(done)

		var session Transcriber
		for {
			it, ok := r.queue.Pop()
			if !ok {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}

			if session == nil {
				var err error
				if session, err = r.newSession(); err != nil {
					return fmt.Errorf("runner: new session: %w", err)
				}
			}

			if it.reset {
				if err := r.safely(func() { session.Reset() }); err != nil {
					slog.Error("session reset failed, replacing session", "error", err)
					session = nil
				}
				continue
			}

			var pieces []string
			err := r.safely(func() { pieces = session.OnAudioChunk(it.pcm) })
			if err != nil {
				slog.Error("session failed, replacing session", "chunk", it.chunk, "error", err)
				session = nil
			}
			logutil.Trace("runner chunk done", "chunk", it.chunk, "pieces", len(pieces), "queued", r.queue.Len())

			if err == nil && len(pieces) == 0 {
				continue
			}
			select {
			case r.out <- Output{Chunk: it.chunk, Pieces: pieces, Err: err}:
			case <-ctx.Done():
				return nil
			}
		}
	})

	return g.Wait()
}

// safely turns a panic inside the session into an error.
func (r *Runner) safely(fn func()) (err error) {
	defer func() {
		if p := recover(); p != nil {
			logutil.Trace("session panic", "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	fn()
	return nil
}
