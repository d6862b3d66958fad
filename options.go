package evloop

import (
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// loopOptions holds resolved configuration for a Loop under construction.
type loopOptions struct {
	bucketCount int
	impl        Implementation // 0 means "use the process-wide default"
	logger      *diagLogger    // nil means "use the package-level default"
	watchdog    *watchdog      // nil means "allocate a fresh one"
}

// LoopOption configures a [Loop] at construction time.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption via a closure.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithBucketCount overrides the fd registry's bucket chain count. n must be
// positive; non-positive values are ignored (the registry default applies).
func WithBucketCount(n int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.bucketCount = n
		return nil
	}}
}

// WithImplementation pins this Loop to a specific backend implementation,
// overriding the process-wide default set via SetImplementation. Fails at
// construction with [ErrInvalidArgument] if the chosen implementation is
// not compiled into this build.
func WithImplementation(impl Implementation) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.impl = impl
		return nil
	}}
}

// WithLogger overrides the package-level diagnostic logger for this Loop
// only.
func WithLogger(logger *logiface.Logger[*stumpy.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = &diagLogger{logger: logger}
		return nil
	}}
}

// resolveLoopOptions applies opts over the package defaults.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		bucketCount: defaultBucketCount,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
