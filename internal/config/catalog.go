package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// Catalog is the static list of build hosts and template images.
type Catalog struct {
	Hosts  []HostProfile `yaml:"hosts"`
	Images []ImageEntry  `yaml:"images"`
}

// HostProfile describes where templates go on one Proxmox node.
type HostProfile struct {
	Hostname        string `yaml:"hostname"`
	TemplateStorage string `yaml:"template_storage"`
	VMIDs           []int  `yaml:"vmids"`
}

// ImageEntry is a catalog image before a VMID has been assigned.
type ImageEntry struct {
	Name                  string `yaml:"name"`
	SourceURL             string `yaml:"source_url"`
	RequiresCustomization bool   `yaml:"requires_customization"`
	// FileName overrides the cached file name, which otherwise is the last
	// path segment of SourceURL with any .xz suffix removed.
	FileName string `yaml:"file_name,omitempty"`
}

// ImageSpec is an image resolved for the selected host.
type ImageSpec struct {
	Name                  string `yaml:"name" json:"name"`
	VMID                  string `yaml:"vmid" json:"vmid"`
	SourceURL             string `yaml:"source_url" json:"source_url"`
	RequiresCustomization bool   `yaml:"requires_customization" json:"requires_customization"`
	FileName              string `yaml:"file_name" json:"file_name"`
}

// ErrUnknownHost is returned when no profile matches the hostname.
var ErrUnknownHost = errors.New("unknown host")

// UnknownHostError carries the hostname that had no profile.
type UnknownHostError struct {
	Hostname string
}

func (e *UnknownHostError) Error() string {
	return fmt.Sprintf(`Configuration for hostname '%s' not found.
You need to add it to the catalog.

Example:

hosts:
  - hostname: %s
    template_storage: local-lvm
    vmids: [1000, 1001, 1002]`, e.Hostname, e.Hostname)
}

func (e *UnknownHostError) Is(target error) bool { return target == ErrUnknownHost }

// imageNamePattern matches names usable as qm guest names.
var imageNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*[a-z0-9]$`)

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog from a YAML file. An empty path selects the
// built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalog YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	c.Normalize()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return &c, nil
}

// Normalize trims whitespace and lowercases hostnames.
func (c *Catalog) Normalize() {
	for i := range c.Hosts {
		c.Hosts[i].Hostname = strings.ToLower(strings.TrimSpace(c.Hosts[i].Hostname))
		c.Hosts[i].TemplateStorage = strings.TrimSpace(c.Hosts[i].TemplateStorage)
	}
	for i := range c.Images {
		c.Images[i].Name = strings.TrimSpace(c.Images[i].Name)
		c.Images[i].SourceURL = strings.TrimSpace(c.Images[i].SourceURL)
	}
}

// Validate checks the catalog for errors.
func (c *Catalog) Validate() error {
	if len(c.Images) == 0 {
		return fmt.Errorf("at least one image is required")
	}

	names := make(map[string]bool)
	for i, img := range c.Images {
		if err := img.Validate(); err != nil {
			return fmt.Errorf("image %d: %w", i, err)
		}
		if names[img.Name] {
			return fmt.Errorf("duplicate image name: %s", img.Name)
		}
		names[img.Name] = true
	}

	hosts := make(map[string]bool)
	for i, h := range c.Hosts {
		if err := h.Validate(len(c.Images)); err != nil {
			return fmt.Errorf("host %d: %w", i, err)
		}
		if hosts[h.Hostname] {
			return fmt.Errorf("duplicate hostname: %s", h.Hostname)
		}
		hosts[h.Hostname] = true
	}

	return nil
}

// Validate checks a single image entry.
func (e *ImageEntry) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !imageNamePattern.MatchString(e.Name) {
		return fmt.Errorf("invalid image name %q: must be lowercase alphanumeric with dots or hyphens", e.Name)
	}
	if e.SourceURL == "" {
		return fmt.Errorf("image %s: source_url is required", e.Name)
	}

	u, err := url.Parse(e.SourceURL)
	if err != nil {
		return fmt.Errorf("image %s: invalid source_url: %w", e.Name, err)
	}
	switch u.Scheme {
	case "http", "https", "s3":
	default:
		return fmt.Errorf("image %s: unsupported source_url scheme %q (supported: http, https, s3)", e.Name, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("image %s: source_url has no host or bucket", e.Name)
	}

	if e.FileName != "" && strings.ContainsRune(e.FileName, '/') {
		return fmt.Errorf("image %s: file_name must not contain '/'", e.Name)
	}
	if e.CachedFileName() == "" {
		return fmt.Errorf("image %s: cannot derive file name from source_url", e.Name)
	}
	return nil
}

// CachedFileName is the file name the image is stored under in the staging
// directory.
func (e *ImageEntry) CachedFileName() string {
	if e.FileName != "" {
		return e.FileName
	}
	u, err := url.Parse(e.SourceURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, ".xz")
}

// Validate checks a host profile against the number of catalog images.
func (h *HostProfile) Validate(imageCount int) error {
	if h.Hostname == "" {
		return fmt.Errorf("hostname is required")
	}
	if h.TemplateStorage == "" {
		return fmt.Errorf("host %s: template_storage is required", h.Hostname)
	}
	if len(h.VMIDs) < imageCount {
		return fmt.Errorf("host %s: %d vmids for %d images", h.Hostname, len(h.VMIDs), imageCount)
	}

	seen := make(map[int]bool)
	for _, id := range h.VMIDs {
		// Proxmox reserves IDs below 100.
		if id < 100 || id > 999999999 {
			return fmt.Errorf("host %s: vmid %d out of range (100-999999999)", h.Hostname, id)
		}
		if seen[id] {
			return fmt.Errorf("host %s: duplicate vmid %d", h.Hostname, id)
		}
		seen[id] = true
	}
	return nil
}

// SelectProfile returns the profile whose hostname matches.
func (c *Catalog) SelectProfile(hostname string) (HostProfile, error) {
	want := strings.ToLower(strings.TrimSpace(hostname))
	for _, h := range c.Hosts {
		if h.Hostname == want {
			return h, nil
		}
	}
	return HostProfile{}, &UnknownHostError{Hostname: hostname}
}

// Resolve selects the profile for hostname and assigns its VMIDs to the
// catalog images by position. When only is non-empty, just the named images
// are returned; they keep the VMID of their catalog position.
func (c *Catalog) Resolve(hostname string, only []string) (HostProfile, []ImageSpec, error) {
	profile, err := c.SelectProfile(hostname)
	if err != nil {
		return HostProfile{}, nil, err
	}

	wanted := make(map[string]bool, len(only))
	for _, name := range only {
		wanted[strings.TrimSpace(name)] = true
	}

	var specs []ImageSpec
	for i, img := range c.Images {
		if len(wanted) > 0 && !wanted[img.Name] {
			continue
		}
		delete(wanted, img.Name)
		specs = append(specs, ImageSpec{
			Name:                  img.Name,
			VMID:                  strconv.Itoa(profile.VMIDs[i]),
			SourceURL:             img.SourceURL,
			RequiresCustomization: img.RequiresCustomization,
			FileName:              img.CachedFileName(),
		})
	}

	for name := range wanted {
		return HostProfile{}, nil, fmt.Errorf("image %q is not in the catalog", name)
	}

	return profile, specs, nil
}
