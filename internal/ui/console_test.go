package ui

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fredrikscode/proxmox-scripts/internal/config"
	"github.com/fredrikscode/proxmox-scripts/internal/pipeline"
)

var debian = config.ImageSpec{
	Name:                  "debian12",
	VMID:                  "1002",
	SourceURL:             "https://cloud.debian.org/images/cloud/bookworm/latest/debian-12-generic-amd64.qcow2",
	RequiresCustomization: true,
	FileName:              "debian-12-generic-amd64.qcow2",
}

func TestConsole_TrackSuccess(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out, Options{})

	calls := 0
	err := c.Track(pipeline.StageBuilt, debian, func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "Creating template debian12 (1002)\n✓ Template debian12 (1002) created\n", out.String())
}

func TestConsole_TrackFailureReturnsErrorUnchanged(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out, Options{})
	want := errors.New("qm failed")

	err := c.Track(pipeline.StageFetched, debian, func() error { return want })

	assert.Same(t, want, err)
	assert.Contains(t, out.String(), "✗ Failed to fetch debian-12-generic-amd64.qcow2")
}

func TestConsole_TrackFetchOfCachedImage(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out, Options{})

	err := c.Track(pipeline.StageFetched, debian, func() error { return nil })

	require.NoError(t, err)
	assert.Equal(t, "Preparing debian-12-generic-amd64.qcow2\n✓ debian-12-generic-amd64.qcow2 is available\n", out.String())
	assert.NotContains(t, out.String(), "Downloading")
}

func TestConsole_TrackCredential(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out, Options{})

	err := c.TrackCredential("https://keys.example.com/internal_servers", func() error { return errors.New("404") })

	require.Error(t, err)
	assert.Contains(t, out.String(), "Failed to fetch SSH keys from https://keys.example.com/internal_servers")
}

func TestConsole_ProgressDisabledOutsideTerminal(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out, Options{})

	fn, done := c.Progress(debian)
	assert.Nil(t, fn)
	require.NotNil(t, done)
	done()
	assert.Empty(t, out.String())
}

func TestDownloadBar_UnknownLengthDrawsNothing(t *testing.T) {
	var out bytes.Buffer
	bar := &downloadBar{out: &out, title: "x"}

	bar.update(1024, 0)
	bar.update(2048, 0)
	bar.stop()
	bar.stop()

	assert.Nil(t, bar.bar)
	assert.Empty(t, out.String())
}

func TestConsole_Summary(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out, Options{})

	c.Summary(&pipeline.Summary{
		Duration: 3 * time.Minute,
		Outcomes: []pipeline.Outcome{
			{Image: config.ImageSpec{Name: "alma9.3", VMID: "1000"}, StageReached: pipeline.StageBuilt, Success: true},
			{Image: debian, StageReached: pipeline.StageCleaned, Err: errors.New("fetch stage failed: 404")},
		},
	})

	got := out.String()
	assert.Contains(t, got, "✓ alma9.3 (1000) ready")
	assert.Contains(t, got, "✗ debian12 (1002) stopped at cleaned: fetch stage failed: 404")
	assert.Contains(t, got, "1 of 2 template(s) failed")
}

func TestConsole_SummaryAllOK(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out, Options{})

	c.Summary(&pipeline.Summary{
		Duration: 90 * time.Second,
		Outcomes: []pipeline.Outcome{{Image: debian, StageReached: pipeline.StageBuilt, Success: true}},
	})

	assert.Contains(t, out.String(), "All 1 template(s) built in 1m30s")
}

func TestConsole_VerdictOnly(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out, Options{})

	c.Verdict(&pipeline.Summary{
		Outcomes: []pipeline.Outcome{
			{Image: debian, StageReached: pipeline.StageFetched, Err: errors.New("build stage failed")},
		},
	})

	assert.Equal(t, "1 of 1 template(s) failed\n", out.String())
}

func TestConsole_Lines(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out, Options{})

	c.Header(config.HostProfile{Hostname: "nano.freddan.io", TemplateStorage: "local-lvm"}, 3)
	c.Warn("bridge %s not found", "vmbr0")
	c.Info("plain %d", 1)

	assert.Equal(t, "Building 3 template(s) on nano.freddan.io\nstorage local-lvm\n! bridge vmbr0 not found\nplain 1\n", out.String())
}
