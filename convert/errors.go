package convert

import "fmt"

// A Stage names the conversion phase a fatal error came from.
type Stage string

const (
	// StageScan covers anchor section detection.
	StageScan Stage = "scan"
	// StageLayout covers section settling and reconciliation.
	StageLayout Stage = "layout"
	// StageTemplate covers matching resolved sections to template descriptors.
	StageTemplate Stage = "template"
	// StageRead covers pulling section payloads out of the source image.
	StageRead Stage = "read"
)

// An Error is the single error type every fatal conversion failure surfaces
// as; it records the stage and, when one is involved, the section that
// triggered it. Conversions are all-or-nothing, so an Error always means no
// output was produced.
type Error struct {
	Stage   Stage
	Section string
	Err     error
}

func (e *Error) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("%s: section %q: %v", e.Stage, e.Section, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func stageErr(stage Stage, section string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Stage: stage, Section: section, Err: err}
}
