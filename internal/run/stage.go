package run

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownStage is returned for stage tags the pipeline does not run.
var ErrUnknownStage = errors.New("unknown stage")

// Stage tags a pipeline step.
type Stage string

const (
	// StageOne scans the universe with free market data.
	StageOne Stage = "stage1"
	// StageTwo runs deep analysis backed by paid data APIs.
	StageTwo Stage = "stage2"
	// StageReconcile merges stage outputs and rolls up usage.
	StageReconcile Stage = "reconcile"
)

var paidStages = map[Stage]bool{
	StageTwo: true,
}

// ParseStage normalizes and validates a stage tag.
func ParseStage(s string) (Stage, error) {
	switch st := Stage(strings.ToLower(strings.TrimSpace(s))); st {
	case StageOne, StageTwo, StageReconcile:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, s)
	}
}

// ConsumesPaidAPIs reports whether running the stage spends on paid APIs,
// which dry-run mode forbids.
func (s Stage) ConsumesPaidAPIs() bool {
	return paidStages[s]
}
