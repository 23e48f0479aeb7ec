// Package ui renders operator-facing progress for a provisioning run: one
// spinner line per stage, a byte progress bar for downloads, and a closing
// summary.
package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/pterm/pterm"

	"github.com/fredrikscode/proxmox-scripts/internal/config"
	"github.com/fredrikscode/proxmox-scripts/internal/fetch"
	"github.com/fredrikscode/proxmox-scripts/internal/pipeline"
	"github.com/fredrikscode/proxmox-scripts/internal/progress"
)

const (
	checkMark = "✓"
	crossMark = "✗"
	warnMark  = "!"
)

var (
	colorGreen  = lipgloss.Color("#22c55e")
	colorRed    = lipgloss.Color("#ef4444")
	colorYellow = lipgloss.Color("#eab308")
	colorBlue   = lipgloss.Color("#3b82f6")
	colorDim    = lipgloss.Color("#6b7280")
)

type styles struct {
	title   lipgloss.Style
	ok      lipgloss.Style
	failed  lipgloss.Style
	warning lipgloss.Style
	dim     lipgloss.Style
}

func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{title: plain, ok: plain, failed: plain, warning: plain, dim: plain}
	}
	return styles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(colorBlue),
		ok:      lipgloss.NewStyle().Foreground(colorGreen),
		failed:  lipgloss.NewStyle().Foreground(colorRed),
		warning: lipgloss.NewStyle().Foreground(colorYellow),
		dim:     lipgloss.NewStyle().Foreground(colorDim),
	}
}

// Options configures a Console.
type Options struct {
	// Interactive enables spinners, colour and the download progress bar.
	Interactive bool
	// Verbose means tool output is passed through to the terminal, so the
	// spinner must not repaint over it.
	Verbose bool
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Console writes progress to an output stream. It implements
// pipeline.Tracker.
type Console struct {
	out    io.Writer
	opts   Options
	styles styles
}

var _ pipeline.Tracker = (*Console)(nil)

// NewConsole creates a Console writing to out.
func NewConsole(out io.Writer, opts Options) *Console {
	return &Console{out: out, opts: opts, styles: newStyles(opts.Interactive)}
}

// Header announces the run.
func (c *Console) Header(profile config.HostProfile, images int) {
	_, _ = fmt.Fprintln(c.out, c.styles.title.Render(fmt.Sprintf("Building %d template(s) on %s", images, profile.Hostname)))
	_, _ = fmt.Fprintln(c.out, c.styles.dim.Render(fmt.Sprintf("storage %s", profile.TemplateStorage)))
}

// Success prints a completed-step line.
func (c *Console) Success(format string, args ...any) {
	c.line(c.styles.ok, checkMark, format, args...)
}

// Failure prints a failed-step line.
func (c *Console) Failure(format string, args ...any) {
	c.line(c.styles.failed, crossMark, format, args...)
}

// Warn prints a warning line.
func (c *Console) Warn(format string, args ...any) {
	c.line(c.styles.warning, warnMark, format, args...)
}

// Info prints a plain line.
func (c *Console) Info(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *Console) line(style lipgloss.Style, mark, format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, "%s %s\n", style.Render(mark), fmt.Sprintf(format, args...))
}

type stageText struct {
	running, done, failed string
}

func describe(stage pipeline.Stage, image config.ImageSpec) stageText {
	switch stage {
	case pipeline.StageCleaned:
		return stageText{
			running: fmt.Sprintf("Removing existing VM %s", image.VMID),
			done:    fmt.Sprintf("VM %s is free", image.VMID),
			failed:  fmt.Sprintf("Failed to remove VM %s", image.VMID),
		}
	case pipeline.StageFetched:
		return stageText{
			running: fmt.Sprintf("Preparing %s", image.FileName),
			done:    fmt.Sprintf("%s is available", image.FileName),
			failed:  fmt.Sprintf("Failed to fetch %s", image.FileName),
		}
	case pipeline.StageCustomized:
		return stageText{
			running: fmt.Sprintf("Customizing %s", image.FileName),
			done:    fmt.Sprintf("%s customized", image.FileName),
			failed:  fmt.Sprintf("Failed to customize %s", image.FileName),
		}
	case pipeline.StageBuilt:
		return stageText{
			running: fmt.Sprintf("Creating template %s (%s)", image.Name, image.VMID),
			done:    fmt.Sprintf("Template %s (%s) created", image.Name, image.VMID),
			failed:  fmt.Sprintf("Failed to create template %s (%s)", image.Name, image.VMID),
		}
	default:
		return stageText{running: stage.String(), done: stage.String(), failed: stage.String()}
	}
}

// Track implements pipeline.Tracker.
func (c *Console) Track(stage pipeline.Stage, image config.ImageSpec, fn func() error) error {
	text := describe(stage, image)
	return progress.Track(c.out, progress.Options{
		Message: text.running,
		Success: c.styles.ok.Render(checkMark) + " " + text.done,
		Failure: c.styles.failed.Render(crossMark) + " " + text.failed,
		// The download draws its own progress bar.
		Animate: c.opts.Interactive && !c.opts.Verbose && stage != pipeline.StageFetched,
	}, fn)
}

// TrackCredential implements pipeline.Tracker.
func (c *Console) TrackCredential(url string, fn func() error) error {
	return progress.Track(c.out, progress.Options{
		Message: "Fetching SSH keys",
		Success: c.styles.ok.Render(checkMark) + " SSH keys fetched",
		Failure: c.styles.failed.Render(crossMark) + " Failed to fetch SSH keys from " + url,
		Animate: c.opts.Interactive && !c.opts.Verbose,
	}, fn)
}

// Progress implements pipeline.Tracker. Outside a terminal, or when the
// server did not announce a length, no bar is drawn.
func (c *Console) Progress(image config.ImageSpec) (fetch.ProgressFunc, func()) {
	if !c.opts.Interactive || c.opts.Verbose {
		return nil, func() {}
	}
	bar := &downloadBar{out: c.out, title: image.FileName}
	return bar.update, bar.stop
}

// downloadBar starts a pterm progress bar on the first update that carries
// a known total.
type downloadBar struct {
	out   io.Writer
	title string

	mu      sync.Mutex
	bar     *pterm.ProgressbarPrinter
	last    int64
	stopped bool
}

func (d *downloadBar) update(received, total int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || total <= 0 {
		return
	}
	if d.bar == nil {
		bar, err := pterm.DefaultProgressbar.
			WithTotal(int(total)).
			WithTitle(d.title).
			WithWriter(d.out).
			WithRemoveWhenDone(true).
			Start()
		if err != nil {
			d.stopped = true
			return
		}
		d.bar = bar
	}
	if delta := received - d.last; delta > 0 {
		d.bar.Add(int(delta))
		d.last = received
	}
}

func (d *downloadBar) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.bar != nil {
		_, _ = d.bar.Stop()
	}
}

// Summary prints one line per image and a closing verdict.
func (c *Console) Summary(s *pipeline.Summary) {
	_, _ = fmt.Fprintln(c.out)
	for _, o := range s.Outcomes {
		if o.Success {
			c.Success("%s (%s) ready", o.Image.Name, o.Image.VMID)
			continue
		}
		c.Failure("%s (%s) stopped at %s: %v", o.Image.Name, o.Image.VMID, o.StageReached, o.Err)
	}
	c.Verdict(s)
}

// Verdict prints the closing line of a run.
func (c *Console) Verdict(s *pipeline.Summary) {
	if s.OK() {
		_, _ = fmt.Fprintln(c.out, c.styles.ok.Render(fmt.Sprintf("All %d template(s) built in %s", len(s.Outcomes), s.Duration.Round(time.Second))))
		return
	}
	_, _ = fmt.Fprintln(c.out, c.styles.failed.Render(fmt.Sprintf("%d of %d template(s) failed", s.Failed(), len(s.Outcomes))))
}
