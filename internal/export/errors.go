package export

import "fmt"

// ExportError reports an artifact that could not be produced.
type ExportError struct {
	Artifact string
	Reason   string
	Err      error
}

func (e *ExportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("export: %s: %s: %v", e.Artifact, e.Reason, e.Err)
	}
	return fmt.Sprintf("export: %s: %s", e.Artifact, e.Reason)
}

func (e *ExportError) Unwrap() error { return e.Err }
