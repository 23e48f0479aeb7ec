// Package pipeline drives each catalog image from "nothing exists" to
// "template ready".
//
// Images are processed strictly one after another in catalog order. For each
// image the stages are:
//  1. Cleaned: any guest already holding the VMID is destroyed
//  2. Fetched: the disk image is downloaded unless a cached copy exists
//  3. Customized: first-boot guest agent install, only when the catalog asks
//  4. Built: the guest is created, configured and converted to a template
//
// A failing stage stops that image only; the next image is always attempted.
// The SSH key file fetched at the start of a run is removed when the run ends,
// whatever happened to the images.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/fredrikscode/proxmox-scripts/internal/config"
	"github.com/fredrikscode/proxmox-scripts/internal/diskimage"
	"github.com/fredrikscode/proxmox-scripts/internal/fetch"
	"github.com/fredrikscode/proxmox-scripts/internal/vm"
)

// Lifecycle removes existing guests. Satisfied by *vm.Controller.
type Lifecycle interface {
	EnsureAbsent(ctx context.Context, vmid string) (bool, error)
}

// Fetcher downloads images and key material. Satisfied by *fetch.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, target fetch.Target, progress fetch.ProgressFunc) (fetch.Result, error)
}

// Customizer prepares images offline. Satisfied by *customize.Customizer.
type Customizer interface {
	Customize(ctx context.Context, imagePath string) error
}

// Builder creates templates. Satisfied by *vm.Builder.
type Builder interface {
	Build(ctx context.Context, p vm.Params) error
}

// Tracker presents progress to the operator. Track must run fn exactly once
// and return its error unchanged.
type Tracker interface {
	Track(stage Stage, image config.ImageSpec, fn func() error) error
	TrackCredential(url string, fn func() error) error
	// Progress returns a byte-level callback for the image download and a
	// function that is called once the download has ended.
	Progress(image config.ImageSpec) (fetch.ProgressFunc, func())
}

// Deps are the components the orchestrator drives.
type Deps struct {
	Lifecycle  Lifecycle
	Fetcher    Fetcher
	Customizer Customizer
	Builder    Builder
	// Tracker is optional.
	Tracker Tracker
}

// Options describe the run.
type Options struct {
	Profile config.HostProfile
	// ImageDir is the staging directory for images and the key file.
	ImageDir   string
	SSHKeyURL  string
	SSHKeyPath string
	AdminUser  string
	Logger     zerolog.Logger
}

// Outcome is the result of one image's pass through the pipeline.
type Outcome struct {
	Image                config.ImageSpec
	StageReached         Stage
	Success              bool
	CustomizationSkipped bool
	// Cached is true when the image was already in the staging directory.
	Cached       bool
	BytesFetched int64
	Format       diskimage.Format
	Duration     time.Duration
	Err          error
}

// Summary collects the outcomes of a run.
type Summary struct {
	Hostname string
	Storage  string
	Started  time.Time
	Duration time.Duration
	Outcomes []Outcome
}

// Succeeded returns the number of images that reached Built.
func (s *Summary) Succeeded() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Success {
			n++
		}
	}
	return n
}

// Failed returns the number of images that did not reach Built.
func (s *Summary) Failed() int {
	return len(s.Outcomes) - s.Succeeded()
}

// OK reports whether every image was built.
func (s *Summary) OK() bool {
	return s.Failed() == 0
}

// ErrCredential wraps failures to stage the SSH key file. It aborts the run
// before any image is touched.
var ErrCredential = errors.New("ssh key setup failed")

// Orchestrator runs the pipeline.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if deps.Tracker == nil {
		deps.Tracker = nopTracker{}
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: opts.Logger.With().Str("component", "pipeline").Logger(),
	}
}

// Run stages the key file, provisions every image in order, and removes the
// key file. The returned error is non-nil only when the run could not start;
// per-image failures are reported in the summary.
func (o *Orchestrator) Run(ctx context.Context, images []config.ImageSpec) (*Summary, error) {
	summary := &Summary{
		Hostname: o.opts.Profile.Hostname,
		Storage:  o.opts.Profile.TemplateStorage,
		Started:  time.Now(),
	}
	defer func() { summary.Duration = time.Since(summary.Started) }()

	// The key file is removed on every exit path, including a failed fetch
	// that left something behind.
	defer o.removeKeyFile()

	if err := o.stageKeyFile(ctx); err != nil {
		o.logger.Error().Err(err).Msg("Failed to stage SSH keys")
		return summary, err
	}

	for i, img := range images {
		if err := ctx.Err(); err != nil {
			o.logger.Warn().Err(err).Msg("Run interrupted, remaining images not attempted")
			for _, rest := range images[i:] {
				summary.Outcomes = append(summary.Outcomes, Outcome{Image: rest, Err: err})
			}
			break
		}

		outcome := o.provision(ctx, img)
		summary.Outcomes = append(summary.Outcomes, outcome)

		event := o.logger.Info()
		if !outcome.Success {
			event = o.logger.Error().Err(outcome.Err)
		}
		event.Str("image", img.Name).
			Str("vmid", img.VMID).
			Str("stage", outcome.StageReached.String()).
			Bool("success", outcome.Success).
			Dur("duration", outcome.Duration).
			Msg("Image finished")
	}

	return summary, nil
}

func (o *Orchestrator) stageKeyFile(ctx context.Context) error {
	return o.deps.Tracker.TrackCredential(o.opts.SSHKeyURL, func() error {
		target := fetch.Target{URL: o.opts.SSHKeyURL, LocalPath: o.opts.SSHKeyPath, Overwrite: true}
		if _, err := o.deps.Fetcher.Fetch(ctx, target, nil); err != nil {
			return fmt.Errorf("%w: %w", ErrCredential, err)
		}

		n, err := validateKeyFile(o.opts.SSHKeyPath)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrCredential, o.opts.SSHKeyURL, err)
		}
		o.logger.Info().Int("keys", n).Str("path", o.opts.SSHKeyPath).Msg("SSH keys staged")
		return nil
	})
}

func (o *Orchestrator) removeKeyFile() {
	if o.opts.SSHKeyPath == "" {
		return
	}
	if err := os.Remove(o.opts.SSHKeyPath); err != nil && !os.IsNotExist(err) {
		o.logger.Warn().Err(err).Str("path", o.opts.SSHKeyPath).Msg("Failed to remove SSH key file")
		return
	}
	o.logger.Debug().Str("path", o.opts.SSHKeyPath).Msg("SSH key file removed")
}

// provision runs one image through the stages. It never panics on a stage
// failure and always returns a populated outcome.
func (o *Orchestrator) provision(ctx context.Context, img config.ImageSpec) (out Outcome) {
	start := time.Now()
	out = Outcome{Image: img, StageReached: StagePending}
	defer func() { out.Duration = time.Since(start) }()

	logger := o.logger.With().Str("image", img.Name).Str("vmid", img.VMID).Logger()
	tracker := o.deps.Tracker

	fail := func(stage Stage, err error) Outcome {
		out.Err = &StageError{Stage: stage, Err: err}
		return out
	}
	advance := func(stage Stage) error {
		if err := out.transition(stage); err != nil {
			return fail(stage, err).Err
		}
		return nil
	}

	// Stage 1: make sure the VMID is free
	err := tracker.Track(StageCleaned, img, func() error {
		ok, err := o.deps.Lifecycle.EnsureAbsent(ctx, img.VMID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("VM %s could not be removed", img.VMID)
		}
		return nil
	})
	if err != nil {
		return fail(StageCleaned, err)
	}
	if err := advance(StageCleaned); err != nil {
		return out
	}

	// Stage 2: make sure the disk image is cached
	imagePath := filepath.Join(o.opts.ImageDir, img.FileName)
	progress, done := tracker.Progress(img)
	err = tracker.Track(StageFetched, img, func() error {
		res, err := o.deps.Fetcher.Fetch(ctx, fetch.Target{URL: img.SourceURL, LocalPath: imagePath}, progress)
		done()
		if err != nil {
			return err
		}
		out.Cached = res.Skipped
		out.BytesFetched = res.Bytes

		// A cached file is used as it is. The format check only informs the
		// log; qm import-from decides whether it can read the image.
		info, err := diskimage.Detect(imagePath)
		if err != nil {
			out.Format = diskimage.FormatUnknown
			logger.Warn().Err(err).Str("path", imagePath).Bool("cached", res.Skipped).Msg("Could not identify image format")
			return nil
		}
		out.Format = info.Format
		logger.Debug().Str("format", string(info.Format)).Uint64("virtual_size", info.VirtualSize).Bool("cached", res.Skipped).Msg("Image ready")
		return nil
	})
	if err != nil {
		return fail(StageFetched, err)
	}
	if err := advance(StageFetched); err != nil {
		return out
	}

	// Stage 3: optional customization
	if img.RequiresCustomization {
		err = tracker.Track(StageCustomized, img, func() error {
			return o.deps.Customizer.Customize(ctx, imagePath)
		})
		if err != nil {
			return fail(StageCustomized, err)
		}
		if err := advance(StageCustomized); err != nil {
			return out
		}
	} else {
		out.CustomizationSkipped = true
		logger.Debug().Msg("Customization not required")
	}

	// Stage 4: create the template
	params := vm.Params{
		VMID:       img.VMID,
		Name:       img.Name,
		ImageName:  img.FileName,
		Storage:    o.opts.Profile.TemplateStorage,
		ImageDir:   o.opts.ImageDir,
		SSHKeyPath: o.opts.SSHKeyPath,
		AdminUser:  o.opts.AdminUser,
	}
	err = tracker.Track(StageBuilt, img, func() error {
		return o.deps.Builder.Build(ctx, params)
	})
	if err != nil {
		return fail(StageBuilt, err)
	}
	if err := advance(StageBuilt); err != nil {
		return out
	}

	out.Success = true
	return out
}

type nopTracker struct{}

func (nopTracker) Track(_ Stage, _ config.ImageSpec, fn func() error) error { return fn() }

func (nopTracker) TrackCredential(_ string, fn func() error) error { return fn() }

func (nopTracker) Progress(config.ImageSpec) (fetch.ProgressFunc, func()) { return nil, func() {} }
