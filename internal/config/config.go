// Package config loads run settings and the host/image catalog.
//
// Settings come from a YAML config file, PVETEMPLATES_* environment variables
// and command line flags, layered by viper. The catalog is a separate YAML
// document; a default one is compiled into the binary.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (PVETEMPLATES_CLOUDINIT_USER).
const EnvPrefix = "PVETEMPLATES"

// Config holds the settings for one run.
type Config struct {
	TemporaryDirectory string         `mapstructure:"temporary_directory"`
	SSHPubkeysURL      string         `mapstructure:"ssh_pubkeys_url"`
	CloudInitUser      string         `mapstructure:"cloudinit_user"`
	Catalog            string         `mapstructure:"catalog"`
	ChunkSize          int            `mapstructure:"chunk_size"`
	MetricsFile        string         `mapstructure:"metrics_file"`
	Timeouts           TimeoutConfig  `mapstructure:"timeouts"`
	Template           TemplateConfig `mapstructure:"template"`
	Log                LogConfig      `mapstructure:"log"`
	S3                 S3Config       `mapstructure:"s3"`
}

// TimeoutConfig bounds external work. Zero disables a timeout.
type TimeoutConfig struct {
	Command  time.Duration `mapstructure:"command"`
	Download time.Duration `mapstructure:"download"`
}

// TemplateConfig is the hardware profile applied to every template.
type TemplateConfig struct {
	Bridge  string `mapstructure:"bridge"`
	VLANTag int    `mapstructure:"vlan_tag"`
	Memory  int    `mapstructure:"memory"`
	Cores   int    `mapstructure:"cores"`
	CPU     string `mapstructure:"cpu"`
}

// LogConfig controls the log file and console verbosity.
type LogConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// S3Config configures the object store used for s3:// image sources.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	PathStyle bool   `mapstructure:"path_style"`
}

// DefaultLogFile is debug.log under the XDG state directory.
func DefaultLogFile() string {
	return filepath.Join(xdg.StateHome, "pvetemplates", "debug.log")
}

// New returns a viper instance with every default registered. Callers bind
// their flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("temporary_directory", "/tmp/")
	v.SetDefault("ssh_pubkeys_url", "https://raw.githubusercontent.com/fredrikscode/ssh-keys/main/internal_servers")
	v.SetDefault("cloudinit_user", "admin")
	v.SetDefault("catalog", "")
	v.SetDefault("chunk_size", 1024)
	v.SetDefault("metrics_file", "")
	v.SetDefault("timeouts.command", "30m")
	v.SetDefault("timeouts.download", "2h")
	v.SetDefault("template.bridge", "vmbr0")
	v.SetDefault("template.vlan_tag", 10)
	v.SetDefault("template.memory", 2048)
	v.SetDefault("template.cores", 2)
	v.SetDefault("template.cpu", "host")
	v.SetDefault("log.file", DefaultLogFile())
	v.SetDefault("log.level", "warn")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.path_style", true)

	return v
}

// Load reads the config file and environment into a validated Config.
// When configFile is empty, config.yaml is searched for in /etc/pvetemplates,
// the user config directory and the working directory; a missing file is not
// an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/pvetemplates")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, "pvetemplates"))
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Normalize trims user input.
func (c *Config) Normalize() {
	c.TemporaryDirectory = strings.TrimSpace(c.TemporaryDirectory)
	c.SSHPubkeysURL = strings.TrimSpace(c.SSHPubkeysURL)
	c.CloudInitUser = strings.TrimSpace(c.CloudInitUser)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.TemporaryDirectory == "" {
		return fmt.Errorf("temporary_directory is required")
	}
	if !filepath.IsAbs(c.TemporaryDirectory) {
		return fmt.Errorf("temporary_directory must be an absolute path: %s", c.TemporaryDirectory)
	}

	if c.SSHPubkeysURL == "" {
		return fmt.Errorf("ssh_pubkeys_url is required")
	}
	u, err := url.Parse(c.SSHPubkeysURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid ssh_pubkeys_url: %s", c.SSHPubkeysURL)
	}
	if name := filepath.Base(u.Path); name == "." || name == "/" {
		return fmt.Errorf("ssh_pubkeys_url must name a file: %s", c.SSHPubkeysURL)
	}

	if c.CloudInitUser == "" {
		return fmt.Errorf("cloudinit_user is required")
	}
	if strings.ContainsAny(c.CloudInitUser, " :/") {
		return fmt.Errorf("invalid cloudinit_user: %q", c.CloudInitUser)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.Timeouts.Command < 0 || c.Timeouts.Download < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}

	if err := c.Template.Validate(); err != nil {
		return fmt.Errorf("template: %w", err)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q (valid levels: debug, info, warn, error)", c.Log.Level)
	}

	return nil
}

// Validate checks the template hardware profile.
func (t *TemplateConfig) Validate() error {
	if t.Bridge == "" {
		return fmt.Errorf("bridge is required")
	}
	if t.VLANTag < 0 || t.VLANTag > 4094 {
		return fmt.Errorf("vlan_tag must be between 0 and 4094, got %d", t.VLANTag)
	}
	if t.Memory < 16 {
		return fmt.Errorf("memory must be at least 16 MiB, got %d", t.Memory)
	}
	if t.Cores < 1 {
		return fmt.Errorf("cores must be at least 1, got %d", t.Cores)
	}
	if t.CPU == "" {
		return fmt.Errorf("cpu is required")
	}
	return nil
}

// SSHKeyPath is where the key material is staged: the last path segment of
// the key URL inside the temporary directory.
func (c *Config) SSHKeyPath() string {
	u, err := url.Parse(c.SSHPubkeysURL)
	if err != nil {
		return filepath.Join(c.TemporaryDirectory, "ssh_pubkeys")
	}
	return filepath.Join(c.TemporaryDirectory, filepath.Base(u.Path))
}
