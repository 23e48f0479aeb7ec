package vm

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Settings holds the hardware and network profile applied to every template.
type Settings struct {
	Bridge  string
	VLANTag int
	Memory  int
	Cores   int
	CPU     string
	OSType  string
}

// DefaultSettings returns the profile used when no overrides are configured.
func DefaultSettings() Settings {
	return Settings{
		Bridge:  "vmbr0",
		VLANTag: 10,
		Memory:  2048,
		Cores:   2,
		CPU:     "host",
		OSType:  "l26",
	}
}

// Params identifies the template to build.
type Params struct {
	VMID string
	// Name is the guest name, normally the catalog image name.
	Name string
	// ImageName is the file name of the cached disk image inside ImageDir.
	ImageName string
	// Storage is the Proxmox storage that receives the disk and cloud-init drive.
	Storage    string
	ImageDir   string
	SSHKeyPath string
	AdminUser  string
}

// Validate checks that every field needed to render the qm sequence is set.
func (p Params) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"vmid", p.VMID},
		{"name", p.Name},
		{"image name", p.ImageName},
		{"storage", p.Storage},
		{"image directory", p.ImageDir},
		{"ssh key path", p.SSHKeyPath},
		{"admin user", p.AdminUser},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%s is required", f.name)
		}
	}
	if _, err := strconv.Atoi(p.VMID); err != nil {
		return fmt.Errorf("vmid must be numeric: %q", p.VMID)
	}
	return nil
}

// Step is one named qm invocation of the build sequence.
type Step struct {
	Name string
	Argv []string
}

// BuildError reports the build step that failed. Steps before it have
// already been applied to the guest.
type BuildError struct {
	Index int
	Step  string
	Argv  []string
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build step %d (%s) failed: %v", e.Index+1, e.Step, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Builder creates templates with qm.
type Builder struct {
	run      runner
	settings Settings
	logger   zerolog.Logger
}

// NewBuilder creates a Builder that issues qm commands through r.
func NewBuilder(r runner, settings Settings, logger zerolog.Logger) *Builder {
	return &Builder{
		run:      r,
		settings: settings,
		logger:   logger.With().Str("component", "builder").Logger(),
	}
}

// Steps renders the ordered qm sequence for p. qm template is always last.
func (b *Builder) Steps(p Params) []Step {
	s := b.settings
	id := p.VMID
	diskPath := filepath.Join(p.ImageDir, p.ImageName)

	net := fmt.Sprintf("virtio,bridge=%s", s.Bridge)
	if s.VLANTag > 0 {
		net += fmt.Sprintf(",tag=%d", s.VLANTag)
	}

	return []Step{
		{"create", []string{"qm", "create", id, "--name", p.Name, "--ostype", s.OSType}},
		{"network", []string{"qm", "set", id, "--net0", net}},
		{"serial console", []string{"qm", "set", id, "--serial0", "socket", "--vga", "serial0"}},
		{"resources", []string{"qm", "set", id, "--memory", strconv.Itoa(s.Memory), "--cores", strconv.Itoa(s.Cores), "--cpu", s.CPU}},
		{"import disk", []string{"qm", "set", id, "--scsi0", fmt.Sprintf("%s:0,import-from=%s,discard=on", p.Storage, diskPath)}},
		{"boot order", []string{"qm", "set", id, "--boot", "order=scsi0", "--scsihw", "virtio-scsi-single"}},
		{"disable tablet", []string{"qm", "set", id, "--tablet", "0"}},
		{"guest agent", []string{"qm", "set", id, "--agent", "enabled=1,fstrim_cloned_disks=1"}},
		{"cloud-init drive", []string{"qm", "set", id, "--ide2", p.Storage + ":cloudinit"}},
		{"ip config", []string{"qm", "set", id, "--ipconfig0", "ip6=auto,ip=dhcp"}},
		{"ssh keys", []string{"qm", "set", id, "--sshkeys", p.SSHKeyPath}},
		{"cloud-init user", []string{"qm", "set", id, "--ciuser", p.AdminUser}},
		{"convert to template", []string{"qm", "template", id}},
	}
}

// Build runs the qm sequence for p. The first failing step stops the build
// and is returned as a *BuildError. Nothing is rolled back.
func (b *Builder) Build(ctx context.Context, p Params) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid build parameters: %w", err)
	}

	logger := b.logger.With().Str("vmid", p.VMID).Str("image", p.Name).Logger()
	steps := b.Steps(p)

	for i, step := range steps {
		logger.Debug().Int("step", i+1).Int("of", len(steps)).Str("name", step.Name).Msg("Running build step")
		if err := b.run.Run(ctx, step.Argv); err != nil {
			logger.Error().Err(err).Str("step", step.Name).Msg("Build step failed")
			return &BuildError{Index: i, Step: step.Name, Argv: step.Argv, Err: err}
		}
	}

	logger.Info().Msg("Template built")
	return nil
}
