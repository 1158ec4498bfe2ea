package vcf

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Stringency controls how a Reader reacts to records that violate the
// header's declarations.
type Stringency int

const (
	// Strict fails the read with a *ValidationError.
	Strict Stringency = iota
	// Lenient logs the violation and keeps the record.
	Lenient
	// Silent keeps the record without logging.
	Silent
)

var stringencyNames = []string{"STRICT", "LENIENT", "SILENT"}

// String returns one of "STRICT", "LENIENT", "SILENT".
func (s Stringency) String() string {
	if s < 0 || int(s) >= len(stringencyNames) {
		return "Stringency(" + strconv.Itoa(int(s)) + ")"
	}
	return stringencyNames[s]
}

// ParseStringency is the inverse of Stringency.String. It is
// case-insensitive.
func ParseStringency(s string) (Stringency, error) {
	for i, name := range stringencyNames {
		if strings.EqualFold(s, name) {
			return Stringency(i), nil
		}
	}
	return Strict, errors.Errorf("vcf: unknown validation stringency %q, want one of %v", s, stringencyNames)
}

// Record is one VCF data line. Only the sort key is decoded; Line holds the
// entire line, without the trailing newline, and is written back unchanged.
type Record struct {
	Chrom string
	// Pos is the 1-based position. 0 denotes a telomere.
	Pos  int
	Line []byte
}

// ParseRecord decodes the CHROM and POS columns of line. The record takes
// ownership of line. It does not check the remaining columns; see
// Reader for stringency-dependent validation.
func ParseRecord(line []byte) (*Record, error) {
	tab0 := bytes.IndexByte(line, '\t')
	if tab0 <= 0 {
		return nil, errors.Errorf("missing CHROM column in %q", abbrev(line))
	}
	rest := line[tab0+1:]
	tab1 := bytes.IndexByte(rest, '\t')
	if tab1 < 0 {
		tab1 = len(rest)
	}
	pos, err := strconv.Atoi(string(rest[:tab1]))
	if err != nil || pos < 0 {
		return nil, errors.Errorf("invalid POS %q in %q", rest[:tab1], abbrev(line))
	}
	return &Record{Chrom: string(line[:tab0]), Pos: pos, Line: line}, nil
}

// MarshalText returns the text form of the record, without the trailing
// newline.
func (r *Record) MarshalText() ([]byte, error) {
	if len(r.Line) == 0 {
		return nil, errors.Errorf("vcf: empty record %s:%d", r.Chrom, r.Pos)
	}
	return r.Line, nil
}

// String returns "chrom:pos".
func (r *Record) String() string {
	return r.Chrom + ":" + strconv.Itoa(r.Pos)
}

// Column returns the i'th (0-based) tab-separated column of the record, or
// nil if there are not enough columns.
func (r *Record) Column(i int) []byte {
	line := r.Line
	for ; i > 0; i-- {
		tab := bytes.IndexByte(line, '\t')
		if tab < 0 {
			return nil
		}
		line = line[tab+1:]
	}
	if tab := bytes.IndexByte(line, '\t'); tab >= 0 {
		return line[:tab]
	}
	return line
}

func abbrev(line []byte) string {
	const max = 64
	if len(line) > max {
		return string(line[:max]) + "..."
	}
	return string(line)
}

// validator checks records against a header. It is built once per Reader.
type validator struct {
	nColumns int
	info     map[string]bool
	format   map[string]bool
}

func newValidator(h *Header) *validator {
	v := &validator{
		nColumns: len(fixedColumns),
		info:     map[string]bool{},
		format:   map[string]bool{},
	}
	if h.HasFormat || len(h.Samples) > 0 {
		v.nColumns += 1 + len(h.Samples)
	}
	for _, m := range h.Meta {
		switch m.Key {
		case keyInfo:
			v.info[m.ID()] = true
		case keyFormat:
			v.format[m.ID()] = true
		}
	}
	return v
}

// check returns a non-empty reason if the record violates the header.
func (v *validator) check(line []byte) string {
	cols := bytes.Split(line, []byte{'\t'})
	if len(cols) != v.nColumns {
		return "found " + strconv.Itoa(len(cols)) + " columns, header declares " + strconv.Itoa(v.nColumns)
	}
	if info := cols[7]; !(len(info) == 1 && info[0] == '.') {
		for _, kv := range bytes.Split(info, []byte{';'}) {
			key := kv
			if eq := bytes.IndexByte(kv, '='); eq >= 0 {
				key = kv[:eq]
			}
			if !v.info[string(key)] {
				return "INFO key " + strconv.Quote(string(key)) + " is not declared in the header"
			}
		}
	}
	if len(cols) > len(fixedColumns) {
		for _, key := range bytes.Split(cols[len(fixedColumns)], []byte{':'}) {
			if !v.format[string(key)] {
				return "FORMAT key " + strconv.Quote(string(key)) + " is not declared in the header"
			}
		}
	}
	return ""
}
