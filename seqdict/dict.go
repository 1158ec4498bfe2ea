// Package seqdict implements the sequence dictionary that orders contigs
// when sorting VCF files: loading it from reference files, resolving one
// authoritative dictionary across several VCF inputs, and ranking contig
// names.
package seqdict

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/vcfsort/encoding/vcf"
	"github.com/pkg/errors"
)

// Contig is one sequence in a dictionary.
type Contig struct {
	Name string
	// Length is the sequence length, or 0 if unknown.
	Length int64
	// Extra lists the other ##contig fields, e.g., assembly or md5. It is
	// carried to the output header but ignored when comparing dictionaries.
	Extra []vcf.Field
}

// Dictionary is an ordered list of contigs. The rank of a contig is its index
// in the list. A Dictionary is immutable and thread safe.
type Dictionary struct {
	contigs []Contig
	ranks   map[string]int
}

// New creates a dictionary. Contig names must be nonempty and unique.
func New(contigs []Contig) (*Dictionary, error) {
	d := &Dictionary{
		contigs: make([]Contig, len(contigs)),
		ranks:   make(map[string]int, len(contigs)),
	}
	for i, c := range contigs {
		c.Extra = append([]vcf.Field(nil), c.Extra...)
		d.contigs[i] = c
		if c.Name == "" {
			return nil, errors.Errorf("seqdict: contig #%d has no name", i)
		}
		if c.Length < 0 {
			return nil, errors.Errorf("seqdict: contig %s has negative length %d", c.Name, c.Length)
		}
		if prev, ok := d.ranks[c.Name]; ok {
			return nil, errors.Errorf("seqdict: duplicate contig %s at #%d and #%d", c.Name, prev, i)
		}
		d.ranks[c.Name] = i
	}
	return d, nil
}

// FromVCFHeader creates a dictionary from the ##contig lines of h. It returns
// nil if h has no contigs.
func FromVCFHeader(h *vcf.Header) (*Dictionary, error) {
	if len(h.Contigs) == 0 {
		return nil, nil
	}
	contigs := make([]Contig, len(h.Contigs))
	for i, c := range h.Contigs {
		contigs[i] = Contig{Name: c.ID, Length: c.Length, Extra: c.Extra}
	}
	return New(contigs)
}

// Len returns the number of contigs.
func (d *Dictionary) Len() int { return len(d.contigs) }

// Contig returns the contig of the given rank.
func (d *Dictionary) Contig(rank int) Contig { return d.contigs[rank] }

// Rank returns the rank of the named contig.
func (d *Dictionary) Rank(name string) (int, bool) {
	r, ok := d.ranks[name]
	return r, ok
}

// RankOf is like Rank, but returns *UnknownContigError for unknown names.
func (d *Dictionary) RankOf(name string) (int, error) {
	if r, ok := d.ranks[name]; ok {
		return r, nil
	}
	return -1, &UnknownContigError{Contig: name}
}

// VCFContigs returns the dictionary as ##contig lines. Each call returns a
// fresh copy.
func (d *Dictionary) VCFContigs() []vcf.Contig {
	contigs := make([]vcf.Contig, len(d.contigs))
	for i, c := range d.contigs {
		contigs[i] = vcf.Contig{ID: c.Name, Length: c.Length, Extra: append([]vcf.Field(nil), c.Extra...)}
	}
	return contigs
}

// Fingerprint returns a hash of the contig names and lengths.
func (d *Dictionary) Fingerprint() uint64 {
	var buf bytes.Buffer
	var lenBuf [8]byte
	for _, c := range d.contigs {
		buf.WriteString(c.Name)
		buf.WriteByte(0)
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(c.Length))
		buf.Write(lenBuf[:])
	}
	return farm.Fingerprint64(buf.Bytes())
}

// String returns a short description, e.g., "[chr1,chr2,...](25 contigs, fp=...)".
func (d *Dictionary) String() string {
	const maxNames = 3
	names := []string{}
	for i, c := range d.contigs {
		if i == maxNames {
			names = append(names, "...")
			break
		}
		names = append(names, c.Name)
	}
	return fmt.Sprintf("[%s](%d contigs, fp=%016x)", strings.Join(names, ","), len(d.contigs), d.Fingerprint())
}

// mismatch returns a description of the first difference between d and o,
// or "" if they are compatible. Lengths are compared only when both are
// known.
func (d *Dictionary) mismatch(o *Dictionary) string {
	if len(d.contigs) != len(o.contigs) {
		return fmt.Sprintf("%d contigs, expected %d", len(o.contigs), len(d.contigs))
	}
	for i, c := range d.contigs {
		oc := o.contigs[i]
		if c.Name != oc.Name {
			return fmt.Sprintf("contig #%d is %s, expected %s", i, oc.Name, c.Name)
		}
		if c.Length > 0 && oc.Length > 0 && c.Length != oc.Length {
			return fmt.Sprintf("contig %s has length %d, expected %d", c.Name, oc.Length, c.Length)
		}
	}
	return ""
}
