package seqdict

import (
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/grailbio/vcfsort/encoding/vcf"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func header(contigs ...string) *vcf.Header {
	h := &vcf.Header{}
	for _, c := range contigs {
		h.Contigs = append(h.Contigs, vcf.Contig{ID: c})
	}
	return h
}

func TestResolveExternal(t *testing.T) {
	ext := newDict(t, Contig{Name: "chr1", Length: 1000}, Contig{Name: "chr2", Length: 2000})
	noDict := header()
	sameDict := header("chr1", "chr2")
	d, err := Resolve(ext, []Input{{"a.vcf", noDict}, {"b.vcf", sameDict}})
	require.NoError(t, err)
	assert.True(t, d == ext)
	// The input without contigs adopts the external dictionary.
	expect.EQ(t, noDict.Contigs, ext.VCFContigs())
	expect.EQ(t, len(sameDict.Contigs), 2)
	expect.EQ(t, sameDict.Contigs[0].Length, int64(0))

	_, err = Resolve(ext, []Input{{"a.vcf", header("chr2", "chr1")}})
	e, ok := errors.Cause(err).(*IncompatibleDictionaryError)
	require.True(t, ok, "error: %v", err)
	expect.EQ(t, e.Input, "a.vcf")
	expect.EQ(t, e.Authority, ExternalName)
}

func TestResolveFromInputs(t *testing.T) {
	first := header("chr1", "chr2")
	noDict := header()
	d, err := Resolve(nil, []Input{{"a.vcf", first}, {"b.vcf", noDict}, {"c.vcf", header("chr1", "chr2")}})
	require.NoError(t, err)
	expect.EQ(t, d.Len(), 2)
	expect.EQ(t, d.Contig(0).Name, "chr1")
	expect.EQ(t, noDict.Contigs, first.Contigs)

	_, err = Resolve(nil, []Input{{"a.vcf", first}, {"b.vcf", header("chr1", "chr2", "chr3")}})
	e, ok := errors.Cause(err).(*IncompatibleDictionaryError)
	require.True(t, ok, "error: %v", err)
	expect.EQ(t, e.Input, "b.vcf")
	expect.EQ(t, e.Authority, "a.vcf")
}

func TestResolveKeepsContigFields(t *testing.T) {
	first := header("chr1", "chr2")
	first.Contigs[0].Extra = []vcf.Field{{Key: "assembly", Value: "hg19"}}
	noDict := header()
	d, err := Resolve(nil, []Input{{"a.vcf", first}, {"b.vcf", noDict}})
	require.NoError(t, err)
	expect.EQ(t, d.Contig(0).Extra, []vcf.Field{{Key: "assembly", Value: "hg19"}})
	expect.EQ(t, noDict.Contigs, first.Contigs)
	expect.EQ(t, d.VCFContigs()[0].String(), "##contig=<ID=chr1,assembly=hg19>")
}

func TestResolveMissing(t *testing.T) {
	_, err := Resolve(nil, []Input{{"a.vcf", header()}, {"b.vcf", header("chr1")}})
	e, ok := errors.Cause(err).(*MissingDictionaryError)
	require.True(t, ok, "error: %v", err)
	expect.EQ(t, e.Input, "a.vcf")

	_, err = Resolve(nil, nil)
	assert.Error(t, err)

	_, err = Resolve(nil, []Input{{"dup.vcf", header("chr1", "chr1")}})
	assert.Error(t, err)
}
