package stream

import (
	"context"
	"sync"
)

// Stream provides pull access to a sequence of operations.
type Stream interface {
	// Next advances to the next operation. Returns false when the
	// stream is exhausted or an error occurred.
	Next() bool

	// Value returns the current operation. Only valid after Next()
	// returns true.
	Value() Operation

	// Err returns the error that terminated iteration, if any.
	Err() error

	// Close releases resources. Must be called when done.
	Close() error
}

// sliceStream replays a fixed sequence of operations.
type sliceStream struct {
	ops []Operation
	pos int
}

// FromOperations returns a stream over a fixed operation sequence.
func FromOperations(ops ...Operation) Stream {
	return &sliceStream{ops: ops}
}

// Empty returns a stream that yields nothing.
func Empty() Stream { return &sliceStream{} }

func (s *sliceStream) Next() bool {
	if s.pos >= len(s.ops) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceStream) Value() Operation { return s.ops[s.pos-1] }
func (s *sliceStream) Err() error       { return nil }
func (s *sliceStream) Close() error     { return nil }

// funcStream pulls operations from a generator function.
type funcStream struct {
	pull func() (Operation, bool, error)
	cur  Operation
	err  error
	done bool
}

// FromFunc returns a stream backed by a pull function. The function
// returns (op, true, nil) to yield, (_, false, nil) on clean end, and a
// non-nil error to terminate the stream with a failure.
func FromFunc(pull func() (Operation, bool, error)) Stream {
	return &funcStream{pull: pull}
}

func (s *funcStream) Next() bool {
	if s.done {
		return false
	}
	op, ok, err := s.pull()
	if err != nil {
		s.err = err
		s.done = true
		return false
	}
	if !ok {
		s.done = true
		return false
	}
	s.cur = op
	return true
}

func (s *funcStream) Value() Operation { return s.cur }
func (s *funcStream) Err() error       { return s.err }
func (s *funcStream) Close() error {
	s.done = true
	return nil
}

// prependStream yields fixed operations before draining the rest.
type prependStream struct {
	head   []Operation
	pos    int
	inRest bool
	rest   Stream
}

// Prepend yields the given operations before the rest of the stream.
// Used to lead a connected source with its initial connUpdate.
func Prepend(rest Stream, ops ...Operation) Stream {
	return &prependStream{head: ops, rest: rest}
}

func (s *prependStream) Next() bool {
	if s.pos < len(s.head) {
		s.pos++
		return true
	}
	s.inRest = true
	return s.rest.Next()
}

func (s *prependStream) Value() Operation {
	if !s.inRest {
		return s.head[s.pos-1]
	}
	return s.rest.Value()
}

func (s *prependStream) Err() error   { return s.rest.Err() }
func (s *prependStream) Close() error { return s.rest.Close() }

// mergeItem carries one pull result from a merged input.
type mergeItem struct {
	op  Operation
	err error
}

// mergeStream fans in several streams. Relative order across inputs is
// unspecified; order within each input is preserved.
type mergeStream struct {
	ch     chan mergeItem
	cancel context.CancelFunc
	wg     *sync.WaitGroup
	cur    Operation
	err    error
	closed bool
}

// Merge combines several streams into one. Each input is drained on its
// own goroutine; the first input error terminates the merged stream.
func Merge(ctx context.Context, streams ...Stream) Stream {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan mergeItem)
	var wg sync.WaitGroup

	for _, in := range streams {
		wg.Add(1)
		go func(in Stream) {
			defer wg.Done()
			defer in.Close()
			for in.Next() {
				select {
				case ch <- mergeItem{op: in.Value()}:
				case <-ctx.Done():
					return
				}
			}
			if err := in.Err(); err != nil {
				select {
				case ch <- mergeItem{err: err}:
				case <-ctx.Done():
				}
			}
		}(in)
	}
	go func() {
		wg.Wait()
		close(ch)
	}()

	return &mergeStream{ch: ch, cancel: cancel, wg: &wg}
}

func (s *mergeStream) Next() bool {
	if s.err != nil || s.closed {
		return false
	}
	item, ok := <-s.ch
	if !ok {
		return false
	}
	if item.err != nil {
		s.err = item.err
		return false
	}
	s.cur = item.op
	return true
}

func (s *mergeStream) Value() Operation { return s.cur }
func (s *mergeStream) Err() error       { return s.err }

func (s *mergeStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	// Drain so producer goroutines can exit.
	for range s.ch {
	}
	s.wg.Wait()
	return nil
}

// guardStream aborts iteration when the context is done. Wrapping the
// source gives every run an explicit cancellation point between pulls.
type guardStream struct {
	ctx context.Context
	in  Stream
	err error
}

// WithContext wraps a stream so iteration stops with ctx.Err() once the
// context is cancelled.
func WithContext(ctx context.Context, in Stream) Stream {
	return &guardStream{ctx: ctx, in: in}
}

func (s *guardStream) Next() bool {
	if s.err != nil {
		return false
	}
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return false
	}
	return s.in.Next()
}

func (s *guardStream) Value() Operation { return s.in.Value() }

func (s *guardStream) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.in.Err()
}

func (s *guardStream) Close() error { return s.in.Close() }
