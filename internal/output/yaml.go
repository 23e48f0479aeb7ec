package output

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/fredrikscode/proxmox-scripts/internal/config"
	"github.com/fredrikscode/proxmox-scripts/internal/pipeline"
)

// YAMLFormatter formats results as YAML.
type YAMLFormatter struct{}

// FormatSummary formats the run as a YAML document.
func (f *YAMLFormatter) FormatSummary(s *pipeline.Summary) (string, error) {
	data, err := yaml.Marshal(NewRunReport(s))
	if err != nil {
		return "", fmt.Errorf("failed to marshal summary to YAML: %w", err)
	}

	return string(data), nil
}

// FormatImages formats the images as a YAML list, the same shape as the
// images section of a catalog file.
func (f *YAMLFormatter) FormatImages(images []config.ImageSpec) (string, error) {
	if len(images) == 0 {
		return "", nil
	}

	data, err := yaml.Marshal(map[string][]config.ImageSpec{"images": images})
	if err != nil {
		return "", fmt.Errorf("failed to marshal images to YAML: %w", err)
	}

	return string(data), nil
}
