package generation

import "context"

// Unconfigured is the generator used when no model is set up. Callers
// detect ErrUnconfigured and answer in a degraded mode.
type Unconfigured struct{}

// Generate implements Generator.
func (Unconfigured) Generate(context.Context, Request) (*Response, error) {
	return nil, ErrUnconfigured
}

// Stream implements Generator.
func (Unconfigured) Stream(context.Context, Request) (Stream, error) {
	return nil, ErrUnconfigured
}
