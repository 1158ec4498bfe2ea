package seqdict

import "fmt"

// MissingDictionaryError is returned by Resolve when an input declares no
// contigs and no authoritative dictionary is available.
type MissingDictionaryError struct {
	Input string
}

func (e *MissingDictionaryError) Error() string {
	return fmt.Sprintf("seqdict: sequence dictionary is missing or empty for %s; add ##contig lines to it, or supply a sequence dictionary", e.Input)
}

// IncompatibleDictionaryError is returned by Resolve when an input's contigs
// disagree with the authoritative dictionary.
type IncompatibleDictionaryError struct {
	Input string
	// Authority names the source of the authoritative dictionary.
	Authority string
	Reason    string
}

func (e *IncompatibleDictionaryError) Error() string {
	return fmt.Sprintf("seqdict: sequence dictionary of %s is incompatible with that of %s: %s", e.Input, e.Authority, e.Reason)
}

// UnknownContigError is returned when a record names a contig that is not
// in the dictionary.
type UnknownContigError struct {
	Contig string
}

func (e *UnknownContigError) Error() string {
	return fmt.Sprintf("seqdict: contig %q is not in the sequence dictionary", e.Contig)
}
