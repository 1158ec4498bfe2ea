package seqdict

import (
	"github.com/grailbio/vcfsort/encoding/vcf"
	"github.com/pkg/errors"
)

// ExternalName is the Authority of an IncompatibleDictionaryError raised
// against a dictionary passed to Resolve.
const ExternalName = "the external sequence dictionary"

// Input is one VCF input of Resolve.
type Input struct {
	// Name identifies the input in errors, e.g., the file path.
	Name   string
	Header *vcf.Header
}

// Resolve picks the dictionary that orders the given inputs.
//
// If external is non-nil, it is authoritative. Otherwise the first input that
// has ##contig lines is. Inputs are visited in order: an input without
// contigs is assigned the authoritative dictionary (its Header.Contigs is
// overwritten), or fails with *MissingDictionaryError if there is none yet.
// An input with contigs must match the authoritative dictionary, name by name
// and in the same order, else *IncompatibleDictionaryError.
func Resolve(external *Dictionary, inputs []Input) (*Dictionary, error) {
	auth, authName := external, ExternalName
	for _, in := range inputs {
		d, err := FromVCFHeader(in.Header)
		if err != nil {
			return nil, errors.Wrap(err, in.Name)
		}
		if d == nil {
			if auth == nil {
				return nil, &MissingDictionaryError{Input: in.Name}
			}
			in.Header.Contigs = auth.VCFContigs()
			continue
		}
		if auth == nil {
			auth, authName = d, in.Name
			continue
		}
		if reason := auth.mismatch(d); reason != "" {
			return nil, &IncompatibleDictionaryError{Input: in.Name, Authority: authName, Reason: reason}
		}
	}
	if auth == nil {
		return nil, errors.New("seqdict: no inputs and no sequence dictionary")
	}
	return auth, nil
}
