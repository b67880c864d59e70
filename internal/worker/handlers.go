package worker

import (
	"context"

	"petsim/internal/models"
)

// TickHandler adapts a tick's Run method to a Handler. The tick summary is
// already logged by the tick itself.
func TickHandler[R any](run func(ctx context.Context) (R, error)) Handler {
	return func(ctx context.Context, _ models.Job) error {
		_, err := run(ctx)
		return err
	}
}
