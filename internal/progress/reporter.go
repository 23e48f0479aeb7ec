// Package progress renders a single-line spinner while a long host operation
// runs. It is purely cosmetic: nothing it does affects the operation it wraps.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// DefaultInterval is the spinner repaint cadence.
const DefaultInterval = 100 * time.Millisecond

// DefaultFrames is the glyph sequence cycled by the spinner.
var DefaultFrames = []string{"-", "/", "|", "\\"}

// Options configures a Reporter.
type Options struct {
	// Message is shown next to the spinner while running.
	Message string
	// Success and Failure are the terminal lines written by Stop.
	Success string
	Failure string

	Interval time.Duration
	Frames   []string

	// Animate enables the repaint goroutine. Disable it for non-terminal
	// output or when tool output is passed through.
	Animate bool
}

// Reporter is a spinner with a strict lifecycle: Idle, Running, Stopped.
// Start is honoured at most once and Stop is idempotent.
type Reporter struct {
	out  io.Writer
	opts Options

	mu      sync.Mutex
	started bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates an idle Reporter writing to out.
func New(out io.Writer, opts Options) *Reporter {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if len(opts.Frames) == 0 {
		opts.Frames = DefaultFrames
	}
	return &Reporter{
		out:  out,
		opts: opts,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start begins rendering. Calls after the first are no-ops.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	if !r.opts.Animate {
		_, _ = fmt.Fprintf(r.out, "%s\n", r.opts.Message)
		close(r.done)
		return
	}
	go r.loop()
}

func (r *Reporter) loop() {
	defer close(r.done)

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	frame := 0
	for {
		_, _ = fmt.Fprintf(r.out, "\r%s %s", r.opts.Message, r.opts.Frames[frame%len(r.opts.Frames)])
		frame++

		select {
		case <-r.stop:
			// Clear the spinner line before the terminal line is written.
			_, _ = fmt.Fprintf(r.out, "\r\033[K")
			return
		case <-ticker.C:
		}
	}
}

// Stop halts rendering, waits for the repaint goroutine to exit, and writes
// the success or failure line. Only the first call has any effect.
func (r *Reporter) Stop(success bool) {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		started := r.started
		r.started = true
		r.mu.Unlock()

		if started {
			close(r.stop)
			<-r.done
		}

		line := r.opts.Failure
		if success {
			line = r.opts.Success
		}
		if line != "" {
			_, _ = fmt.Fprintf(r.out, "%s\n", line)
		}
	})
}

// Track runs fn under a started Reporter and stops it on every exit path,
// including a panic in fn. The reporter reports success iff fn returns nil.
func Track(out io.Writer, opts Options, fn func() error) (err error) {
	r := New(out, opts)
	r.Start()

	success := false
	defer func() { r.Stop(success) }()

	err = fn()
	success = err == nil
	return err
}
