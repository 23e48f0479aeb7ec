package pipeline

import (
	"fmt"
)

// Stage is how far an image has progressed through the pipeline.
type Stage int

const (
	// StagePending means no stage completed, e.g. the cleanup gate failed.
	StagePending Stage = iota
	// StageCleaned means no guest holds the image's VMID.
	StageCleaned
	// StageFetched means the disk image is present in the staging directory.
	StageFetched
	// StageCustomized means the first-boot actions were injected.
	StageCustomized
	// StageBuilt means the template exists.
	StageBuilt
)

var stageNames = map[Stage]string{
	StagePending:    "pending",
	StageCleaned:    "cleaned",
	StageFetched:    "fetched",
	StageCustomized: "customized",
	StageBuilt:      "built",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// MarshalText renders the stage name in YAML and JSON output.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CanTransitionTo reports whether next may follow s. Customization is the
// only optional stage, so Fetched may advance straight to Built.
func (s Stage) CanTransitionTo(next Stage) bool {
	switch s {
	case StagePending:
		return next == StageCleaned
	case StageCleaned:
		return next == StageFetched
	case StageFetched:
		return next == StageCustomized || next == StageBuilt
	case StageCustomized:
		return next == StageBuilt
	default:
		return false
	}
}

// transition moves the outcome to next. It refuses out-of-order moves and
// leaves the outcome untouched in that case.
func (o *Outcome) transition(next Stage) error {
	if !o.StageReached.CanTransitionTo(next) {
		return fmt.Errorf("cannot transition to %s from stage %s", next, o.StageReached)
	}
	o.StageReached = next
	return nil
}

// StageError records the stage that was being attempted when an image failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", stageVerb(e.Stage), e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageVerb(s Stage) string {
	switch s {
	case StageCleaned:
		return "cleanup"
	case StageFetched:
		return "fetch"
	case StageCustomized:
		return "customize"
	case StageBuilt:
		return "build"
	default:
		return s.String()
	}
}
