package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fredrikscode/proxmox-scripts/internal/config"
	"github.com/fredrikscode/proxmox-scripts/internal/fetch"
	"github.com/fredrikscode/proxmox-scripts/internal/vm"
)

const testKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIIbJKZscbOLzBsgY5y2QupKW4A2kSDjMBQGPb1dChr+S test@example.com\n"

// recorder collects the order in which components were invoked.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type mockLifecycle struct {
	rec    *recorder
	errFor map[string]error
}

func (m *mockLifecycle) EnsureAbsent(_ context.Context, vmid string) (bool, error) {
	m.rec.add("clean %s", vmid)
	if err := m.errFor[vmid]; err != nil {
		return false, err
	}
	return true, nil
}

// mockFetcher writes content to the target path the way the real fetcher
// does, honouring Overwrite and the skip-if-present rule.
type mockFetcher struct {
	rec     *recorder
	content map[string]string
	errFor  map[string]error
}

func (m *mockFetcher) Fetch(_ context.Context, target fetch.Target, progress fetch.ProgressFunc) (fetch.Result, error) {
	m.rec.add("fetch %s", target.URL)
	if err := m.errFor[target.URL]; err != nil {
		return fetch.Result{}, err
	}
	if !target.Overwrite {
		if _, err := os.Stat(target.LocalPath); err == nil {
			return fetch.Result{Skipped: true}, nil
		}
	}
	body := m.content[target.URL]
	if err := os.MkdirAll(filepath.Dir(target.LocalPath), 0o755); err != nil {
		return fetch.Result{}, err
	}
	if err := os.WriteFile(target.LocalPath, []byte(body), 0o600); err != nil {
		return fetch.Result{}, err
	}
	if progress != nil {
		progress(int64(len(body)), int64(len(body)))
	}
	return fetch.Result{Bytes: int64(len(body)), Total: int64(len(body))}, nil
}

type mockCustomizer struct {
	rec    *recorder
	errFor map[string]error
}

func (m *mockCustomizer) Customize(_ context.Context, path string) error {
	name := filepath.Base(path)
	m.rec.add("customize %s", name)
	return m.errFor[name]
}

type mockBuilder struct {
	rec    *recorder
	errFor map[string]error
	params []vm.Params
}

func (m *mockBuilder) Build(_ context.Context, p vm.Params) error {
	m.rec.add("build %s", p.VMID)
	m.params = append(m.params, p)
	return m.errFor[p.VMID]
}

// harness wires the mocks into an Orchestrator with a temporary staging
// directory.
type harness struct {
	rec        *recorder
	lifecycle  *mockLifecycle
	fetcher    *mockFetcher
	customizer *mockCustomizer
	builder    *mockBuilder
	dir        string
	keyURL     string
	keyPath    string
}

func newHarness(dir string) *harness {
	rec := &recorder{}
	keyURL := "https://keys.example.com/internal_servers"
	return &harness{
		rec:        rec,
		lifecycle:  &mockLifecycle{rec: rec, errFor: map[string]error{}},
		fetcher:    &mockFetcher{rec: rec, content: map[string]string{keyURL: testKey}, errFor: map[string]error{}},
		customizer: &mockCustomizer{rec: rec, errFor: map[string]error{}},
		builder:    &mockBuilder{rec: rec, errFor: map[string]error{}},
		dir:        dir,
		keyURL:     keyURL,
		keyPath:    filepath.Join(dir, "internal_servers"),
	}
}

func (h *harness) orchestrator(profile config.HostProfile) *Orchestrator {
	return New(Deps{
		Lifecycle:  h.lifecycle,
		Fetcher:    h.fetcher,
		Customizer: h.customizer,
		Builder:    h.builder,
	}, Options{
		Profile:    profile,
		ImageDir:   h.dir,
		SSHKeyURL:  h.keyURL,
		SSHKeyPath: h.keyPath,
		AdminUser:  "admin",
	})
}
