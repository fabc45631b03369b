package domain

import (
	"strings"

	apperrors "github.com/louisbranch/workdesk/internal/platform/errors"
)

// ObjectReference is the 5-part business key linking a task to an external
// business object. A reference is either absent or complete; partial
// references are rejected.
type ObjectReference struct {
	Company        string
	System         string
	SystemInstance string
	Type           string
	Value          string
}

// Validate checks that all five parts of the reference are set.
func (r ObjectReference) Validate() error {
	missing := ""
	switch {
	case strings.TrimSpace(r.Company) == "":
		missing = "company"
	case strings.TrimSpace(r.System) == "":
		missing = "system"
	case strings.TrimSpace(r.SystemInstance) == "":
		missing = "system instance"
	case strings.TrimSpace(r.Type) == "":
		missing = "type"
	case strings.TrimSpace(r.Value) == "":
		missing = "value"
	}
	if missing != "" {
		return apperrors.WithMetadata(
			apperrors.CodeTaskInvalidObjectReference,
			"object reference "+missing+" is required",
			map[string]string{"MissingPart": missing},
		)
	}
	return nil
}
