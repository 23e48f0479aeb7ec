package output

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fredrikscode/proxmox-scripts/internal/config"
	"github.com/fredrikscode/proxmox-scripts/internal/pipeline"
)

// createTestSummary creates a run with one built image and one failed image.
func createTestSummary() *pipeline.Summary {
	return &pipeline.Summary{
		Hostname: "nano.freddan.io",
		Storage:  "local-lvm",
		Started:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Duration: 5 * time.Minute,
		Outcomes: []pipeline.Outcome{
			{
				Image:                config.ImageSpec{Name: "alma9.3", VMID: "1000"},
				StageReached:         pipeline.StageBuilt,
				Success:              true,
				CustomizationSkipped: true,
				BytesFetched:         1024,
				Duration:             90 * time.Second,
			},
			{
				Image:        config.ImageSpec{Name: "debian12", VMID: "1002"},
				StageReached: pipeline.StageCleaned,
				Duration:     2 * time.Second,
				Err:          errors.New("fetch stage failed: 404 Not Found"),
			},
		},
	}
}

func createTestImages() []config.ImageSpec {
	return []config.ImageSpec{
		{
			Name:      "alma9.3",
			VMID:      "1000",
			SourceURL: "https://repo.almalinux.org/almalinux/9.3/cloud/x86_64/images/AlmaLinux-9-GenericCloud-latest.x86_64.qcow2",
			FileName:  "AlmaLinux-9-GenericCloud-latest.x86_64.qcow2",
		},
		{
			Name:                  "debian12",
			VMID:                  "1002",
			SourceURL:             "https://cloud.debian.org/images/cloud/bookworm/latest/debian-12-generic-amd64.qcow2",
			RequiresCustomization: true,
			FileName:              "debian-12-generic-amd64.qcow2",
		},
	}
}

func TestTableFormatter_FormatSummary(t *testing.T) {
	tests := []struct {
		name       string
		summary    *pipeline.Summary
		noHeaders  bool
		wantLines  int
		wantHeader bool
	}{
		{
			name:    "empty run",
			summary: &pipeline.Summary{},
		},
		{
			name:       "mixed results",
			summary:    createTestSummary(),
			wantLines:  3,
			wantHeader: true,
		},
		{
			name:      "no headers",
			summary:   createTestSummary(),
			noHeaders: true,
			wantLines: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &TableFormatter{NoHeaders: tt.noHeaders}
			output, err := formatter.FormatSummary(tt.summary)
			if err != nil {
				t.Fatalf("FormatSummary() error = %v", err)
			}

			if tt.wantLines == 0 {
				if output != "No images processed\n" {
					t.Errorf("expected 'No images processed' message, got: %s", output)
				}
				return
			}

			hasHeader := strings.Contains(output, "IMAGE") && strings.Contains(output, "STAGE")
			if tt.wantHeader != hasHeader {
				t.Errorf("header present = %v, want %v: %s", hasHeader, tt.wantHeader, output)
			}

			lines := strings.Split(strings.TrimSpace(output), "\n")
			if len(lines) != tt.wantLines {
				t.Errorf("expected %d lines, got %d: %s", tt.wantLines, len(lines), output)
			}

			for _, want := range []string{"alma9.3", "built", "ok", "1m30s", "debian12", "cleaned", "failed", "404 Not Found"} {
				if !strings.Contains(output, want) {
					t.Errorf("output missing %q: %s", want, output)
				}
			}
		})
	}
}

func TestTableFormatter_FormatImages(t *testing.T) {
	formatter := &TableFormatter{}

	output, err := formatter.FormatImages(createTestImages())
	if err != nil {
		t.Fatalf("FormatImages() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %s", len(lines), output)
	}
	if !strings.HasPrefix(lines[0], "NAME") {
		t.Errorf("expected header row, got: %s", lines[0])
	}
	if !strings.Contains(lines[2], "debian12") || !strings.Contains(lines[2], "1002") || !strings.Contains(lines[2], "yes") {
		t.Errorf("unexpected debian row: %s", lines[2])
	}
	if !strings.Contains(lines[1], "no") {
		t.Errorf("alma row should not require customization: %s", lines[1])
	}

	empty, err := formatter.FormatImages(nil)
	if err != nil {
		t.Fatalf("FormatImages(nil) error = %v", err)
	}
	if empty != "No images found\n" {
		t.Errorf("unexpected empty output: %q", empty)
	}
}

func TestYAMLFormatter_FormatSummary(t *testing.T) {
	formatter := &YAMLFormatter{}
	output, err := formatter.FormatSummary(createTestSummary())
	if err != nil {
		t.Fatalf("FormatSummary() error = %v", err)
	}

	requiredFields := []string{
		"hostname: nano.freddan.io",
		"storage: local-lvm",
		"succeeded: 1",
		"failed: 1",
		"images:",
		"name: alma9.3",
		"stage: built",
		"customizationSkipped: true",
		"bytesFetched: 1024",
		"stage: cleaned",
		"error:",
		"404 Not Found",
	}

	for _, field := range requiredFields {
		if !strings.Contains(output, field) {
			t.Errorf("output missing required field %q: %s", field, output)
		}
	}
}

func TestYAMLFormatter_FormatImages(t *testing.T) {
	formatter := &YAMLFormatter{}
	output, err := formatter.FormatImages(createTestImages())
	if err != nil {
		t.Fatalf("FormatImages() error = %v", err)
	}

	for _, field := range []string{"images:", "name: debian12", "vmid:", "1002", "requires_customization: true", "file_name: debian-12-generic-amd64.qcow2"} {
		if !strings.Contains(output, field) {
			t.Errorf("output missing required field %q: %s", field, output)
		}
	}

	empty, err := formatter.FormatImages(nil)
	if err != nil || empty != "" {
		t.Errorf("FormatImages(nil) = %q, %v", empty, err)
	}
}

func TestJSONFormatter_FormatSummary(t *testing.T) {
	formatter := &JSONFormatter{}
	output, err := formatter.FormatSummary(createTestSummary())
	if err != nil {
		t.Fatalf("FormatSummary() error = %v", err)
	}

	var report RunReport
	if err := json.Unmarshal([]byte(output), &report); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, output)
	}

	if report.Hostname != "nano.freddan.io" || report.Succeeded != 1 || report.Failed != 1 {
		t.Errorf("unexpected report header: %+v", report)
	}
	if len(report.Images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(report.Images))
	}
	if report.Images[0].Stage != "built" || !report.Images[0].Success || report.Images[0].Error != "" {
		t.Errorf("unexpected first image: %+v", report.Images[0])
	}
	if report.Images[1].Error != "fetch stage failed: 404 Not Found" {
		t.Errorf("unexpected error text: %q", report.Images[1].Error)
	}
	if report.DurationSeconds != 300 {
		t.Errorf("DurationSeconds = %v, want 300", report.DurationSeconds)
	}
}

func TestJSONFormatter_FormatImages(t *testing.T) {
	tests := []struct {
		name      string
		images    []config.ImageSpec
		wantEmpty bool
	}{
		{
			name:      "empty list",
			images:    []config.ImageSpec{},
			wantEmpty: true,
		},
		{
			name:   "catalog images",
			images: createTestImages(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &JSONFormatter{}
			output, err := formatter.FormatImages(tt.images)
			if err != nil {
				t.Fatalf("FormatImages() error = %v", err)
			}

			if tt.wantEmpty {
				if output != "[]\n" {
					t.Errorf("expected %q, got: %q", "[]\n", output)
				}
				return
			}

			if !strings.HasPrefix(strings.TrimSpace(output), "[") {
				t.Errorf("expected output to start with '[': %s", output)
			}
			for _, img := range tt.images {
				if !strings.Contains(output, `"name": "`+img.Name+`"`) {
					t.Errorf("output missing image name %q", img.Name)
				}
			}
			if !strings.Contains(output, `"requires_customization": true`) {
				t.Errorf("output missing customization flag: %s", output)
			}
		})
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{
			name: "table format",
			opts: Options{Format: FormatTable},
		},
		{
			name: "yaml format",
			opts: Options{Format: FormatYAML},
		},
		{
			name: "json format",
			opts: Options{Format: FormatJSON},
		},
		{
			name:    "invalid format",
			opts:    Options{Format: "invalid"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter, err := NewFormatter(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewFormatter() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && formatter == nil {
				t.Error("NewFormatter() returned nil formatter")
			}
		})
	}
}

func TestValidateFormat(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		wantErr bool
	}{
		{
			name:   "valid table",
			format: "table",
		},
		{
			name:   "valid yaml",
			format: "yaml",
		},
		{
			name:   "valid json",
			format: "json",
		},
		{
			name:    "invalid format",
			format:  "xml",
			wantErr: true,
		},
		{
			name:    "empty format",
			format:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFormat(tt.format)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		want     string
	}{
		{"sub-second", 800 * time.Millisecond, "800ms"},
		{"5 seconds", 5 * time.Second, "5s"},
		{"90 seconds", 90 * time.Second, "1m30s"},
		{"2 minutes", 2 * time.Minute, "2m0s"},
		{"64 minutes", 64 * time.Minute, "1h4m"},
		{"negative", -time.Second, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatElapsed(tt.duration)
			if got != tt.want {
				t.Errorf("formatElapsed(%v) = %q, want %q", tt.duration, got, tt.want)
			}
		})
	}
}
