package vcgraph

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

const DefaultMaxConcurrentLoads = 16

// Options configures the diff and apply engines.
type Options struct {
	Logger zerolog.Logger
	// MaxConcurrentLoads bounds node loads in flight during a diff. Zero
	// means DefaultMaxConcurrentLoads.
	MaxConcurrentLoads int
}

func (o *Options) validate() error {
	var result *multierror.Error
	if o.MaxConcurrentLoads < 0 {
		result = multierror.Append(result, fmt.Errorf("max concurrent loads must not be negative, got %d", o.MaxConcurrentLoads))
	}
	return wrapOptionsError(result)
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrentLoads == 0 {
		o.MaxConcurrentLoads = DefaultMaxConcurrentLoads
	}
	return o
}

func wrapOptionsError(result *multierror.Error) error {
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	return nil
}
