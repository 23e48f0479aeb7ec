package vm

import (
	"context"
)

// runner executes one host command from an argv slice.
//
// In production, this is satisfied by *command.Invoker.
// In tests, this is satisfied by mock implementations.
type runner interface {
	Run(ctx context.Context, argv []string) error
}
