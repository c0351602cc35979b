package workflow

import (
	"context"
	"sync"
)

// streamDelta is one increment produced by a streaming node.
type streamDelta struct {
	Content          string
	ReasoningContent string
}

// streamBuffer records the deltas of one streaming node so that consumers
// starting late still see everything (replay, then follow).
type streamBuffer struct {
	mu     sync.Mutex
	deltas []streamDelta
	closed bool
	err    error
	notify chan struct{}
}

func newStreamBuffer() *streamBuffer {
	return &streamBuffer{notify: make(chan struct{})}
}

func (b *streamBuffer) append(d streamDelta) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.deltas = append(b.deltas, d)
	close(b.notify)
	b.notify = make(chan struct{})
}

// close ends the stream. err is nil for a normal end.
func (b *streamBuffer) close(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.err = err
	close(b.notify)
}

// reader returns an independent cursor starting at the first delta.
func (b *streamBuffer) reader() *streamReader {
	return &streamReader{buf: b}
}

type streamReader struct {
	buf *streamBuffer
	pos int
}

// Next blocks until a delta is available. ok is false once the stream has
// ended; err carries the producer's failure, if any.
func (r *streamReader) Next(ctx context.Context) (d streamDelta, ok bool, err error) {
	for {
		r.buf.mu.Lock()
		if r.pos < len(r.buf.deltas) {
			d = r.buf.deltas[r.pos]
			r.pos++
			r.buf.mu.Unlock()
			return d, true, nil
		}
		if r.buf.closed {
			err = r.buf.err
			r.buf.mu.Unlock()
			return streamDelta{}, false, err
		}
		wait := r.buf.notify
		r.buf.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return streamDelta{}, false, ctx.Err()
		}
	}
}
