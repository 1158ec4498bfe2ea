package vcf

import (
	"bufio"
	"bytes"
	"io"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
)

// maxWarnings is the number of LENIENT validation warnings logged per
// Reader before the rest are suppressed.
const maxWarnings = 100

// ReadOpts configures a Reader.
type ReadOpts struct {
	// Stringency decides what happens to records that do not conform to
	// the header. The default is Strict.
	Stringency Stringency
	// Name identifies the input in errors and log messages. Typically the
	// file path.
	Name string
}

// Reader decodes a VCF text stream. The stream must be uncompressed; wrap
// it in a gzip reader beforehand if needed.
type Reader struct {
	opts      ReadOpts
	r         *bufio.Reader
	header    *Header
	validator *validator
	lineno    int
	nWarnings int
}

// NewReader reads the header from r and returns a Reader positioned at the
// first record.
func NewReader(r io.Reader, opts ReadOpts) (*Reader, error) {
	br := bufio.NewReaderSize(r, 1<<20)
	h, n, err := parseHeader(br)
	if err != nil {
		if opts.Name != "" {
			err = errors.Wrap(err, opts.Name)
		}
		return nil, err
	}
	return &Reader{
		opts:      opts,
		r:         br,
		header:    h,
		validator: newValidator(h),
		lineno:    n,
	}, nil
}

// Header returns the parsed header. The caller may modify it, e.g., to
// assign contigs; it does not affect parsing.
func (r *Reader) Header() *Header { return r.header }

// Read returns the next record. It returns io.EOF at the end of the
// stream.
func (r *Reader) Read() (*Record, error) {
	for {
		line, err := r.r.ReadBytes('\n')
		if len(line) == 0 {
			if err == nil || err == io.EOF {
				return nil, io.EOF
			}
			return nil, errors.Wrapf(err, "vcf: %s: read line %d", r.opts.Name, r.lineno+1)
		}
		if err != nil && err != io.EOF {
			return nil, errors.Wrapf(err, "vcf: %s: read line %d", r.opts.Name, r.lineno+1)
		}
		r.lineno++
		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			continue
		}
		if bytes.Count(line, []byte{'\t'}) < len(fixedColumns)-1 {
			return nil, r.invalid("fewer than 8 columns")
		}
		rec, err := ParseRecord(line)
		if err != nil {
			return nil, r.invalid(err.Error())
		}
		if r.opts.Stringency == Silent {
			return rec, nil
		}
		if reason := r.validator.check(line); reason != "" {
			if r.opts.Stringency == Strict {
				return nil, r.invalid(reason)
			}
			r.warn(reason)
		}
		return rec, nil
	}
}

func (r *Reader) invalid(reason string) error {
	return &ValidationError{Input: r.opts.Name, Line: r.lineno, Reason: reason}
}

func (r *Reader) warn(reason string) {
	r.nWarnings++
	switch {
	case r.nWarnings <= maxWarnings:
		log.Error.Printf("%v", r.invalid(reason))
	case r.nWarnings == maxWarnings+1:
		log.Error.Printf("vcf: %s: too many validation warnings; suppressing the rest", r.opts.Name)
	}
}

// NumWarnings returns the number of LENIENT validation warnings seen so
// far.
func (r *Reader) NumWarnings() int { return r.nWarnings }
