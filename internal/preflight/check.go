// Package preflight verifies that the host can build templates before any
// guest is touched: it must be a Proxmox VE node, the process must run as
// root, and qm and virt-customize must be installed.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// Tool represents a host tool that may be required.
type Tool struct {
	// Name is the binary name to look for in PATH.
	Name string

	// Required indicates if this tool is mandatory.
	Required bool

	// Description explains what the tool is used for.
	Description string

	// Package is the Debian package that provides the tool.
	Package string
}

// DefaultTools returns the tools a template build needs.
func DefaultTools() []Tool {
	return []Tool{
		{
			Name:        "qm",
			Required:    true,
			Description: "Proxmox VE guest manager, used to create and convert templates",
			Package:     "qemu-server",
		},
		{
			Name:        "virt-customize",
			Required:    true,
			Description: "Offline image editor, used to install the guest agent",
			Package:     "libguestfs-tools",
		},
	}
}

// CheckResult contains the result of checking a single tool.
type CheckResult struct {
	Tool  Tool
	Found bool
	Path  string
}

// CheckResults contains the results of checking multiple tools.
type CheckResults struct {
	Results []CheckResult
	Missing []Tool
}

// HasErrors returns true if any required tools are missing.
func (r *CheckResults) HasErrors() bool {
	for _, tool := range r.Missing {
		if tool.Required {
			return true
		}
	}
	return false
}

// Error returns an error naming the missing required tools and the packages
// that provide them.
func (r *CheckResults) Error() error {
	var missing, packages []string
	for _, tool := range r.Missing {
		if tool.Required {
			missing = append(missing, tool.Name)
			packages = append(packages, tool.Package)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingToolsError{Tools: missing, Packages: packages}
}

// MissingToolsError lists required tools that are not installed.
type MissingToolsError struct {
	Tools    []string
	Packages []string
}

func (e *MissingToolsError) Error() string {
	return fmt.Sprintf("this program requires %s to work; install with: apt install %s",
		strings.Join(e.Tools, " and "), strings.Join(e.Packages, " "))
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// CheckTools verifies that the specified tools are available in PATH.
func CheckTools(tools []Tool) *CheckResults {
	results := &CheckResults{}

	for _, tool := range tools {
		result := CheckResult{Tool: tool}

		path, err := lookPath(tool.Name)
		if err == nil {
			result.Found = true
			result.Path = path
		} else {
			results.Missing = append(results.Missing, tool)
		}

		results.Results = append(results.Results, result)
	}

	return results
}

// ErrNotRoot is returned when the process lacks root privileges.
var ErrNotRoot = errors.New("this program needs to be run as root")

// ErrNotProxmox is returned when the kernel is not a Proxmox VE kernel.
var ErrNotProxmox = errors.New("this program can only be run on Proxmox VE")

// geteuid is swapped in tests.
var geteuid = os.Geteuid

// CheckRoot fails unless the effective user is root.
func CheckRoot() error {
	if geteuid() != 0 {
		return ErrNotRoot
	}
	return nil
}

// KernelRelease returns the running kernel release string.
func KernelRelease() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", fmt.Errorf("uname failed: %w", err)
	}
	return unix.ByteSliceToString(uts.Release[:]), nil
}

// kernelRelease is swapped in tests.
var kernelRelease = KernelRelease

// CheckProxmox fails unless the kernel release identifies a Proxmox VE
// kernel, e.g. "6.8.12-4-pve".
func CheckProxmox() error {
	release, err := kernelRelease()
	if err != nil {
		return err
	}
	if !IsProxmoxRelease(release) {
		return fmt.Errorf("%w (kernel %s)", ErrNotProxmox, release)
	}
	return nil
}

// IsProxmoxRelease reports whether a kernel release string is a PVE kernel.
func IsProxmoxRelease(release string) bool {
	return strings.Contains(release, "pve")
}

// linkByName is swapped in tests.
var linkByName = netlink.LinkByName

// CheckBridge verifies that the network bridge templates attach to exists.
func CheckBridge(name string) error {
	link, err := linkByName(name)
	if err != nil {
		return fmt.Errorf("bridge %s not found: %w", name, err)
	}
	if link.Type() != "bridge" {
		return fmt.Errorf("interface %s is a %s, not a bridge", name, link.Type())
	}
	return nil
}

type runner interface {
	Run(ctx context.Context, argv []string) error
}

// InstallPackages installs the Debian packages that provide the given tools.
func InstallPackages(ctx context.Context, r runner, tools []Tool) error {
	seen := make(map[string]bool)
	argv := []string{"apt", "install", "-y"}
	for _, tool := range tools {
		if tool.Package == "" || seen[tool.Package] {
			continue
		}
		seen[tool.Package] = true
		argv = append(argv, tool.Package)
	}
	if len(seen) == 0 {
		return nil
	}

	if err := r.Run(ctx, argv); err != nil {
		return fmt.Errorf("failed to install dependencies: %w", err)
	}
	return nil
}
