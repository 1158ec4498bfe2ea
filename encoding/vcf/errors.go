package vcf

import (
	"fmt"
	"strings"
)

// SchemaMismatchError is returned by MergeHeaders when an input's sample
// list differs from the first input's, either in names or in order.
type SchemaMismatchError struct {
	// Input names the offending input.
	Input string
	Want  []string
	Got   []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("vcf: %s: sample list [%s] differs from [%s]",
		e.Input, strings.Join(e.Got, ","), strings.Join(e.Want, ","))
}

// HeaderConflictError is returned by MergeHeaders when two inputs define the
// same INFO or FORMAT key with incompatible Number or Type.
type HeaderConflictError struct {
	Input  string
	Class  string // "INFO" or "FORMAT"
	ID     string
	Reason string
}

func (e *HeaderConflictError) Error() string {
	return fmt.Sprintf("vcf: %s: conflicting ##%s definition for %s: %s", e.Input, e.Class, e.ID, e.Reason)
}

// ValidationError reports a malformed record.
type ValidationError struct {
	Input string
	// Line is the 1-based line number in the input.
	Line   int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Input == "" {
		return fmt.Sprintf("vcf: line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("vcf: %s:%d: %s", e.Input, e.Line, e.Reason)
}
