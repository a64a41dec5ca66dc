package filestore

import (
	"github.com/spf13/afero"
	"golang.org/x/time/rate"
)

// DefaultMaxOpenHandles is the default capacity of the permit pool
// bounding concurrently open file handles.
const DefaultMaxOpenHandles = 8

type options struct {
	logger            *Logger
	baseFs            afero.Fs
	initialBufferSize int
	minimumBufferSize int
	maxOpenHandles    int64
	ioLimit           rate.Limit
}

// Option configures backend construction behavior.
type Option func(*options)

// WithLogger configures structured logging for operations. Pass nil to
// disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}

		o.logger = logger
	}
}

// WithFs replaces the file system the local backend operates on.
// Primarily used to run against an in-memory file system in tests.
func WithFs(fsys afero.Fs) Option {
	return func(o *options) {
		o.baseFs = fsys
	}
}

// WithInitialBufferSize configures the initial size of the reusable
// read buffer. Defaults to DefaultInitialBufferSize.
func WithInitialBufferSize(n int) Option {
	return func(o *options) {
		o.initialBufferSize = n
	}
}

// WithMinimumBufferSize configures the low-water mark below which a
// fresh read buffer is allocated. Defaults to DefaultMinimumBufferSize.
func WithMinimumBufferSize(n int) Option {
	return func(o *options) {
		o.minimumBufferSize = n
	}
}

// WithMaxOpenHandles configures the capacity of the permit pool gating
// open file handles. Defaults to DefaultMaxOpenHandles.
func WithMaxOpenHandles(n int64) Option {
	return func(o *options) {
		o.maxOpenHandles = n
	}
}

// WithIOLimit throttles read streams to the given number of bytes per
// second. Zero means unlimited.
func WithIOLimit(bytesPerSec int) Option {
	return func(o *options) {
		o.ioLimit = rate.Limit(bytesPerSec)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:            NoopLogger(),
		initialBufferSize: DefaultInitialBufferSize,
		minimumBufferSize: DefaultMinimumBufferSize,
		maxOpenHandles:    DefaultMaxOpenHandles,
	}

	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}

	return o
}
