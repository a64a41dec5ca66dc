package filestore

import (
	"context"
	"errors"
	"io"

	"golang.org/x/time/rate"
)

const (
	// DefaultInitialBufferSize is the size of a freshly allocated read
	// buffer.
	DefaultInitialBufferSize = 20 * 1024 * 1024

	// DefaultMinimumBufferSize is the low-water mark below which the
	// remaining buffer capacity is discarded and a fresh buffer of
	// DefaultInitialBufferSize is allocated. Reads are never issued
	// into a region smaller than this.
	DefaultMinimumBufferSize = 1 * 1024 * 1024
)

// ReaderStreamOptions configures a ReaderStream.
type ReaderStreamOptions struct {
	// InitialBufferSize is the capacity of each fresh buffer.
	InitialBufferSize int

	// MinimumBufferSize is the low-water mark that triggers a fresh
	// buffer allocation before the next read.
	MinimumBufferSize int

	// Limiter optionally throttles the stream to a byte rate.
	Limiter *rate.Limiter

	// Translate maps errors from the underlying source into the
	// storage error taxonomy. Defaults to the identity.
	Translate func(error) error

	// OnClose runs exactly once when the stream terminates or is
	// closed, after the source has been closed.
	OnClose func()
}

// ReaderStream adapts a sequential byte source into a DataStream using
// one reusable buffer.
//
// Each pull fills as much of the remaining buffer as the source yields
// and hands the filled prefix to the consumer as an owned chunk by
// re-slicing, without copying; the remainder stays in place for the
// next read, so handed-out chunks are never rewritten. Once the
// remaining capacity falls below the minimum size a fresh buffer is
// allocated, amortizing allocation cost while never reading into a
// too-small region. End of the source terminates the stream with
// io.EOF; any source error terminates it with the translated error.
type ReaderStream struct {
	r    io.ReadCloser
	buf  []byte
	opts ReaderStreamOptions

	done   bool
	closed bool
	err    error
}

// NewReaderStream wraps r. The reader is closed when the stream
// terminates or is abandoned via Close.
func NewReaderStream(r io.ReadCloser, optFns ...func(*ReaderStreamOptions)) *ReaderStream {
	opts := ReaderStreamOptions{
		InitialBufferSize: DefaultInitialBufferSize,
		MinimumBufferSize: DefaultMinimumBufferSize,
	}

	for _, fn := range optFns {
		if fn != nil {
			fn(&opts)
		}
	}

	if opts.InitialBufferSize <= 0 {
		opts.InitialBufferSize = DefaultInitialBufferSize
	}

	if opts.MinimumBufferSize <= 0 || opts.MinimumBufferSize > opts.InitialBufferSize {
		opts.MinimumBufferSize = min(DefaultMinimumBufferSize, opts.InitialBufferSize)
	}

	return &ReaderStream{r: r, opts: opts}
}

// Next implements Stream.
func (s *ReaderStream) Next(ctx context.Context) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}

	if s.done {
		return nil, io.EOF
	}

	if err := ctx.Err(); err != nil {
		return nil, s.fail(NewError(KindCancelled, "read interrupted", err))
	}

	for {
		if len(s.buf) < s.opts.MinimumBufferSize {
			s.buf = make([]byte, s.opts.InitialBufferSize)
		}

		n, err := s.r.Read(s.buf)
		if n > 0 {
			chunk := s.buf[:n:n]
			s.buf = s.buf[n:]

			if s.opts.Limiter != nil {
				if werr := s.opts.Limiter.WaitN(ctx, n); werr != nil {
					return nil, s.fail(NewError(KindCancelled, "read interrupted", werr))
				}
			}

			switch {
			case errors.Is(err, io.EOF):
				s.finish()
			case err != nil:
				// Deliver the chunk now, surface the failure on the
				// next pull.
				_ = s.fail(s.translate(err))
			}

			return chunk, nil
		}

		if errors.Is(err, io.EOF) {
			s.finish()
			return nil, io.EOF
		}

		if err != nil {
			return nil, s.fail(s.translate(err))
		}
	}
}

// Close releases the underlying source. It is safe to call at any
// point, including after the stream terminated on its own.
func (s *ReaderStream) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true
	s.done = true
	err := s.r.Close()

	if s.opts.OnClose != nil {
		s.opts.OnClose()
	}

	return err
}

func (s *ReaderStream) translate(err error) error {
	if s.opts.Translate == nil {
		return err
	}

	return s.opts.Translate(err)
}

func (s *ReaderStream) finish() {
	s.done = true
	_ = s.Close()
}

func (s *ReaderStream) fail(err error) error {
	s.err = err
	_ = s.Close()

	return err
}
