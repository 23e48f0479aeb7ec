package output

import (
	"encoding/json"
	"fmt"

	"github.com/fredrikscode/proxmox-scripts/internal/config"
	"github.com/fredrikscode/proxmox-scripts/internal/pipeline"
)

// JSONFormatter formats results as JSON.
type JSONFormatter struct{}

// FormatSummary formats the run as a single JSON object.
func (f *JSONFormatter) FormatSummary(s *pipeline.Summary) (string, error) {
	data, err := json.MarshalIndent(NewRunReport(s), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal summary to JSON: %w", err)
	}

	return string(data) + "\n", nil
}

// FormatImages formats the images as a JSON array.
func (f *JSONFormatter) FormatImages(images []config.ImageSpec) (string, error) {
	if len(images) == 0 {
		return "[]\n", nil
	}

	data, err := json.MarshalIndent(images, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal images to JSON: %w", err)
	}

	return string(data) + "\n", nil
}
