package compress

import (
	"context"
)

// Converter defines the interface for the conversion service.
type Converter interface {
	Plan(ctx context.Context, req Request) Plan
	Convert(ctx context.Context, req Request, report func(percent float64, phase string)) Outcome
}
