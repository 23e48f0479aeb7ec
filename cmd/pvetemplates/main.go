package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fredrikscode/proxmox-scripts/internal/command"
	"github.com/fredrikscode/proxmox-scripts/internal/config"
	"github.com/fredrikscode/proxmox-scripts/internal/customize"
	"github.com/fredrikscode/proxmox-scripts/internal/fetch"
	"github.com/fredrikscode/proxmox-scripts/internal/logging"
	"github.com/fredrikscode/proxmox-scripts/internal/metrics"
	"github.com/fredrikscode/proxmox-scripts/internal/output"
	"github.com/fredrikscode/proxmox-scripts/internal/pipeline"
	"github.com/fredrikscode/proxmox-scripts/internal/preflight"
	"github.com/fredrikscode/proxmox-scripts/internal/ui"
	"github.com/fredrikscode/proxmox-scripts/internal/vm"
)

var (
	version = "dev"
	commit  = "unknown"
)

// errRunFailed is returned when at least one image did not become a
// template. The per-image details have already been printed.
var errRunFailed = errors.New("one or more templates failed")

// newRunner builds the runner every qm, virt-customize and apt call goes
// through. Tests replace it.
var newRunner = func(logger zerolog.Logger, verbose bool, timeout time.Duration) command.Runner {
	return command.New(logger, verbose, timeout)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var flags struct {
	configFile   string
	verbose      bool
	logInfo      bool
	logDebug     bool
	hostname     string
	catalog      string
	only         []string
	outputFormat string
}

var rootCmd = &cobra.Command{
	Use:   "pvetemplates",
	Short: "Build golden VM templates on a Proxmox VE node",
	Long: `pvetemplates turns upstream cloud images into Proxmox VE templates.

For every image in the catalog it removes any guest holding the image's VMID,
downloads the image unless it is already cached, optionally installs the
QEMU guest agent on first boot, and creates a cloud-init enabled template.

The host's hostname selects the storage pool and VMIDs from the catalog.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		return runTemplates(cmd.Context(), a)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "config file (default: search /etc/pvetemplates, ~/.config/pvetemplates, .)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "show output from qm and virt-customize")
	pf.BoolVar(&flags.logInfo, "log-info", false, "log informational messages to the console")
	pf.BoolVar(&flags.logDebug, "log-debug", false, "log debug messages to the console")
	pf.StringVar(&flags.hostname, "hostname", "", "host profile to use (default: this machine's hostname)")
	pf.StringVar(&flags.catalog, "catalog", "", "catalog file (default: built-in catalog)")
	pf.StringSliceVar(&flags.only, "only", nil, "build only the named images (comma separated)")
	pf.StringVarP(&flags.outputFormat, "output", "o", "table", "output format: table, yaml, json")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pvetemplates %s (commit: %s)\n", version, commit)
	},
}

// app is the per-invocation state shared by every command.
type app struct {
	cfg      *config.Config
	catalog  *config.Catalog
	logger   zerolog.Logger
	logClose io.Closer
	console  *ui.Console
	// out receives formatted results; progress goes to the console.
	out io.Writer
}

func (a *app) close() {
	_ = a.logClose.Close()
}

// setup loads configuration, opens the log and builds the console.
func setup(cmd *cobra.Command) (*app, error) {
	if err := output.ValidateFormat(flags.outputFormat); err != nil {
		return nil, err
	}

	v := config.New()
	if err := v.BindPFlag("catalog", cmd.Root().PersistentFlags().Lookup("catalog")); err != nil {
		return nil, fmt.Errorf("failed to bind catalog flag: %w", err)
	}
	switch {
	case flags.logDebug:
		v.Set("log.level", "debug")
	case flags.logInfo:
		v.Set("log.level", "info")
	}

	cfg, err := config.Load(v, flags.configFile)
	if err != nil {
		return nil, err
	}

	// A log file that cannot be opened leaves console logging in place and
	// is reported by Setup itself.
	logger, logClose, _ := logging.Setup(logging.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: os.Stderr,
		NoColor: !ui.IsTerminal(os.Stderr),
	})

	catalog, err := loadCatalog(cfg.Catalog)
	if err != nil {
		_ = logClose.Close()
		return nil, err
	}

	// Keep stdout machine readable when a structured format was requested.
	progressOut := io.Writer(os.Stdout)
	interactive := ui.IsTerminal(os.Stdout)
	if output.Format(flags.outputFormat) != output.FormatTable {
		progressOut = os.Stderr
		interactive = ui.IsTerminal(os.Stderr)
	}

	logger.Debug().
		Str("version", version).
		Str("config", v.ConfigFileUsed()).
		Str("catalog", cfg.Catalog).
		Msg("Configuration loaded")

	return &app{
		cfg:      cfg,
		catalog:  catalog,
		logger:   logger,
		logClose: logClose,
		console:  ui.NewConsole(progressOut, ui.Options{Interactive: interactive, Verbose: flags.verbose}),
		out:      os.Stdout,
	}, nil
}

func loadCatalog(path string) (*config.Catalog, error) {
	if path == "" {
		return config.DefaultCatalog()
	}
	return config.LoadCatalog(path)
}

func resolveHostname() (string, error) {
	if flags.hostname != "" {
		return flags.hostname, nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to determine hostname: %w", err)
	}
	return hostname, nil
}

// runTemplates is the default command: preflight, then the pipeline.
func runTemplates(ctx context.Context, a *app) error {
	hostname, err := resolveHostname()
	if err != nil {
		return err
	}

	profile, images, err := a.catalog.Resolve(hostname, flags.only)
	if err != nil {
		return err
	}
	a.logger.Info().
		Str("hostname", profile.Hostname).
		Str("storage", profile.TemplateStorage).
		Int("images", len(images)).
		Msg("Host profile selected")

	if err := hostChecks(a); err != nil {
		return err
	}

	invoker := newRunner(a.logger, flags.verbose, a.cfg.Timeouts.Command)

	fetcher, err := newFetcher(ctx, a, images)
	if err != nil {
		return err
	}

	orch := pipeline.New(pipeline.Deps{
		Lifecycle:  vm.NewController(invoker, a.logger),
		Fetcher:    fetcher,
		Customizer: customize.New(invoker, a.logger),
		Builder:    vm.NewBuilder(invoker, vmSettings(a.cfg.Template), a.logger),
		Tracker:    a.console,
	}, pipeline.Options{
		Profile:    profile,
		ImageDir:   a.cfg.TemporaryDirectory,
		SSHKeyURL:  a.cfg.SSHPubkeysURL,
		SSHKeyPath: a.cfg.SSHKeyPath(),
		AdminUser:  a.cfg.CloudInitUser,
		Logger:     a.logger,
	})

	a.console.Header(profile, len(images))
	summary, err := orch.Run(ctx, images)
	if err != nil {
		return err
	}

	// In table mode the table is the per-image listing; structured output
	// keeps the console listing on stderr.
	table := output.Format(flags.outputFormat) == output.FormatTable
	if !table {
		a.console.Summary(summary)
	}
	if err := printSummary(a, summary); err != nil {
		return err
	}
	if table {
		a.console.Verdict(summary)
	}
	writeMetrics(a, summary)

	if !summary.OK() {
		return errRunFailed
	}
	return nil
}

// hostChecks runs the platform checks. The bridge check only warns: qm
// create accepts a bridge that is defined later.
func hostChecks(a *app) error {
	if err := preflight.CheckProxmox(); err != nil {
		return err
	}
	if err := preflight.CheckRoot(); err != nil {
		return err
	}
	if err := preflight.CheckTools(preflight.DefaultTools()).Error(); err != nil {
		return err
	}
	if err := preflight.CheckBridge(a.cfg.Template.Bridge); err != nil {
		a.logger.Warn().Err(err).Str("bridge", a.cfg.Template.Bridge).Msg("Bridge check failed")
		a.console.Warn("%v", err)
	}
	return nil
}

func newFetcher(ctx context.Context, a *app, images []config.ImageSpec) (*fetch.Fetcher, error) {
	f := fetch.New(a.logger)
	f.ChunkSize = a.cfg.ChunkSize
	f.Timeout = a.cfg.Timeouts.Download

	if !needsObjectStore(images) {
		return f, nil
	}
	store, err := fetch.NewObjectStore(ctx, fetch.ObjectStoreOptions{
		Endpoint:  a.cfg.S3.Endpoint,
		Region:    a.cfg.S3.Region,
		AccessKey: a.cfg.S3.AccessKey,
		SecretKey: a.cfg.S3.SecretKey,
		PathStyle: a.cfg.S3.PathStyle,
	})
	if err != nil {
		return nil, err
	}
	f.ObjectStore = store
	return f, nil
}

func needsObjectStore(images []config.ImageSpec) bool {
	for _, img := range images {
		if strings.HasPrefix(img.SourceURL, "s3://") {
			return true
		}
	}
	return false
}

func vmSettings(t config.TemplateConfig) vm.Settings {
	s := vm.DefaultSettings()
	s.Bridge = t.Bridge
	s.VLANTag = t.VLANTag
	s.Memory = t.Memory
	s.Cores = t.Cores
	s.CPU = t.CPU
	return s
}

// printSummary writes the run summary in the requested output format.
func printSummary(a *app, summary *pipeline.Summary) error {
	format := output.Format(flags.outputFormat)
	formatter, err := output.NewFormatter(output.Options{Format: format})
	if err != nil {
		return err
	}
	text, err := formatter.FormatSummary(summary)
	if err != nil {
		return err
	}
	if format == output.FormatTable {
		text = "\n" + text
	}
	_, err = fmt.Fprint(a.out, text)
	return err
}

func writeMetrics(a *app, summary *pipeline.Summary) {
	if a.cfg.MetricsFile == "" {
		return
	}
	recorder := metrics.NewRecorder()
	recorder.Observe(summary, time.Now())
	if err := recorder.WriteFile(a.cfg.MetricsFile); err != nil {
		a.logger.Warn().Err(err).Str("path", a.cfg.MetricsFile).Msg("Failed to write metrics")
		return
	}
	a.logger.Debug().Str("path", a.cfg.MetricsFile).Msg("Metrics written")
}
