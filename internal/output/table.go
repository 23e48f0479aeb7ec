package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fredrikscode/proxmox-scripts/internal/config"
	"github.com/fredrikscode/proxmox-scripts/internal/pipeline"
)

// TableFormatter formats results as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatSummary formats one row per image.
func (f *TableFormatter) FormatSummary(s *pipeline.Summary) (string, error) {
	if len(s.Outcomes) == 0 {
		return "No images processed\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "IMAGE\tVMID\tSTAGE\tRESULT\tDURATION\tERROR")
	}

	for _, o := range s.Outcomes {
		result := "ok"
		if !o.Success {
			result = "failed"
		}
		errText := "-"
		if o.Err != nil {
			errText = o.Err.Error()
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			o.Image.Name, o.Image.VMID, o.StageReached, result, formatElapsed(o.Duration), errText)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// FormatImages formats the resolved catalog for a host.
func (f *TableFormatter) FormatImages(images []config.ImageSpec) (string, error) {
	if len(images) == 0 {
		return "No images found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tVMID\tCUSTOMIZE\tFILE\tSOURCE")
	}

	for _, img := range images {
		customize := "no"
		if img.RequiresCustomization {
			customize = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			img.Name, img.VMID, customize, img.FileName, img.SourceURL)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// formatElapsed formats a duration with at most two units.
// Examples: "800ms", "5s", "2m10s", "1h4m"
func formatElapsed(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}

	seconds := int(d.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}

	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm%ds", minutes, seconds%60)
	}

	return fmt.Sprintf("%dh%dm", minutes/60, minutes%60)
}
