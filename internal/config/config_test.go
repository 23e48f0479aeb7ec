package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New(), writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/", cfg.TemporaryDirectory)
	assert.Equal(t, "admin", cfg.CloudInitUser)
	assert.Equal(t, 1024, cfg.ChunkSize)
	assert.Equal(t, 30*time.Minute, cfg.Timeouts.Command)
	assert.Equal(t, 2*time.Hour, cfg.Timeouts.Download)
	assert.Equal(t, TemplateConfig{Bridge: "vmbr0", VLANTag: 10, Memory: 2048, Cores: 2, CPU: "host"}, cfg.Template)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "/tmp/internal_servers", cfg.SSHKeyPath())
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `temporary_directory: /var/tmp/templates
cloudinit_user: fredrik
ssh_pubkeys_url: https://keys.example.com/team.pub
template:
  memory: 4096
  vlan_tag: 0
timeouts:
  command: 5m
`)

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "/var/tmp/templates", cfg.TemporaryDirectory)
	assert.Equal(t, "fredrik", cfg.CloudInitUser)
	assert.Equal(t, 4096, cfg.Template.Memory)
	assert.Equal(t, 0, cfg.Template.VLANTag)
	assert.Equal(t, 5*time.Minute, cfg.Timeouts.Command)
	assert.Equal(t, "/var/tmp/templates/team.pub", cfg.SSHKeyPath())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PVETEMPLATES_CLOUDINIT_USER", "ops")
	t.Setenv("PVETEMPLATES_TEMPLATE_CORES", "8")

	cfg, err := Load(New(), writeConfig(t, "cloudinit_user: fredrik\n"))
	require.NoError(t, err)

	assert.Equal(t, "ops", cfg.CloudInitUser)
	assert.Equal(t, 8, cfg.Template.Cores)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "error reading config file")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			TemporaryDirectory: "/tmp/",
			SSHPubkeysURL:      "https://example.com/keys",
			CloudInitUser:      "admin",
			ChunkSize:          1024,
			Template:           TemplateConfig{Bridge: "vmbr0", VLANTag: 10, Memory: 2048, Cores: 2, CPU: "host"},
			Log:                LogConfig{Level: "warn"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "relative tmp", mutate: func(c *Config) { c.TemporaryDirectory = "tmp" }, wantErr: "absolute path"},
		{name: "no key url", mutate: func(c *Config) { c.SSHPubkeysURL = "" }, wantErr: "ssh_pubkeys_url is required"},
		{name: "key url without file", mutate: func(c *Config) { c.SSHPubkeysURL = "https://example.com/" }, wantErr: "must name a file"},
		{name: "bad user", mutate: func(c *Config) { c.CloudInitUser = "a b" }, wantErr: "invalid cloudinit_user"},
		{name: "zero chunk", mutate: func(c *Config) { c.ChunkSize = 0 }, wantErr: "chunk_size must be positive"},
		{name: "negative timeout", mutate: func(c *Config) { c.Timeouts.Download = -time.Second }, wantErr: "must not be negative"},
		{name: "vlan out of range", mutate: func(c *Config) { c.Template.VLANTag = 5000 }, wantErr: "vlan_tag"},
		{name: "no cores", mutate: func(c *Config) { c.Template.Cores = 0 }, wantErr: "cores must be at least 1"},
		{name: "bad level", mutate: func(c *Config) { c.Log.Level = "verbose" }, wantErr: "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)

			err := c.Validate()

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
