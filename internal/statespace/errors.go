package statespace

import (
	"fmt"
	"strings"
)

// EmptyLocationError reports a location whose every constituent sub-unit has
// zero population. The caller must exclude the location; there is no weight
// row to build for it.
type EmptyLocationError struct {
	Location string
}

func (e *EmptyLocationError) Error() string {
	return fmt.Sprintf("statespace: location %q has no populated constituents", e.Location)
}

// InvalidStatespaceRequest reports overlap between the input and excluded
// location sets. This is a caller bug and is always fatal.
type InvalidStatespaceRequest struct {
	Overlap []string
}

func (e *InvalidStatespaceRequest) Error() string {
	return fmt.Sprintf("statespace: input contains excluded locations: %s",
		strings.Join(e.Overlap, ", "))
}
