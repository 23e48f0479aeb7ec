package vm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Controller checks for and removes guests by VMID.
type Controller struct {
	run    runner
	logger zerolog.Logger
}

// NewController creates a Controller that issues qm commands through r.
func NewController(r runner, logger zerolog.Logger) *Controller {
	return &Controller{
		run:    r,
		logger: logger.With().Str("component", "lifecycle").Logger(),
	}
}

// Exists reports whether a guest with vmid is defined.
//
// qm status exits non-zero for an unknown VMID, and every failure of the
// status query is read as "absent". The query does not distinguish a missing
// guest from a broken qm, so a host where qm itself fails will look empty here
// and the later create step will surface the real problem.
func (c *Controller) Exists(ctx context.Context, vmid string) bool {
	return c.run.Run(ctx, []string{"qm", "status", vmid}) == nil
}

// EnsureAbsent guarantees no guest holds vmid.
//
// The sequence is:
//  1. qm status <vmid>; failure means nothing to remove, return true
//  2. qm destroy <vmid>; success returns true, failure returns false and the
//     destroy error
//
// Calling EnsureAbsent twice in a row issues at most one destroy.
func (c *Controller) EnsureAbsent(ctx context.Context, vmid string) (bool, error) {
	logger := c.logger.With().Str("vmid", vmid).Logger()

	// Step 1: Check if VM exists
	logger.Debug().Msg("Checking for existing VM")
	if !c.Exists(ctx, vmid) {
		logger.Info().Msg("No existing VM, nothing to remove")
		return true, nil
	}

	// Step 2: Destroy it
	logger.Info().Msg("Existing VM found, destroying")
	if err := c.run.Run(ctx, []string{"qm", "destroy", vmid}); err != nil {
		logger.Error().Err(err).Msg("Failed to destroy existing VM")
		return false, fmt.Errorf("failed to destroy VM %s: %w", vmid, err)
	}

	logger.Info().Msg("Existing VM destroyed")
	return true, nil
}
