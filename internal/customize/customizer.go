// Package customize prepares a cached cloud image offline with virt-customize
// so that guests cloned from the template start the QEMU guest agent on first
// boot.
package customize

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// GuestAgentPackage is installed into images that do not ship the agent.
const GuestAgentPackage = "qemu-guest-agent"

type runner interface {
	Run(ctx context.Context, argv []string) error
}

// Step is one virt-customize invocation.
type Step struct {
	Name string
	Argv []string
}

// Customizer edits disk images in place.
type Customizer struct {
	run    runner
	logger zerolog.Logger
}

// New creates a Customizer that issues virt-customize commands through r.
func New(r runner, logger zerolog.Logger) *Customizer {
	return &Customizer{run: r, logger: logger.With().Str("component", "customize").Logger()}
}

// Steps returns the ordered virt-customize invocations for imagePath.
func Steps(imagePath string) []Step {
	return []Step{
		{
			Name: "install guest agent",
			Argv: []string{"virt-customize", "-a", imagePath, "--firstboot-install", GuestAgentPackage},
		},
		{
			Name: "enable guest agent",
			Argv: []string{"virt-customize", "-a", imagePath, "--firstboot-command", "systemctl enable --now " + GuestAgentPackage},
		},
	}
}

// Customize registers the guest agent install and enable actions in the
// image's first-boot queue. It is not transactional: when the second step
// fails the first one has already modified the image.
func (c *Customizer) Customize(ctx context.Context, imagePath string) error {
	logger := c.logger.With().Str("image", imagePath).Logger()

	for _, step := range Steps(imagePath) {
		logger.Debug().Str("step", step.Name).Msg("Customizing image")
		if err := c.run.Run(ctx, step.Argv); err != nil {
			return fmt.Errorf("failed to %s: %w", step.Name, err)
		}
	}

	logger.Info().Msg("Image customized")
	return nil
}
