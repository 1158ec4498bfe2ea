package vcf

import (
	"io"
	"strings"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, text string, opts ReadOpts) ([]*Record, *Reader, error) {
	r, err := NewReader(strings.NewReader(text), opts)
	require.NoError(t, err)
	var recs []*Record
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return recs, r, nil
		}
		if err != nil {
			return recs, r, err
		}
		recs = append(recs, rec)
	}
}

func TestReader(t *testing.T) {
	text := testHeader +
		"chr2\t100\trs1\tA\tC\t50\tPASS\tDP=10\tGT\t0/1\t1/1\n" +
		"chr1\t7\t.\tG\tT\t.\tq10\t.\tGT\t0/0\t./.\r\n" +
		"\n" +
		"chr1\t5\t.\tG\tT\t.\t.\tDP=3\tGT\t0/0\t0/1" // no trailing newline
	recs, r, err := readAll(t, text, ReadOpts{Name: "in.vcf"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	expect.EQ(t, recs[0].Chrom, "chr2")
	expect.EQ(t, recs[0].Pos, 100)
	expect.EQ(t, string(recs[0].Line), "chr2\t100\trs1\tA\tC\t50\tPASS\tDP=10\tGT\t0/1\t1/1")
	expect.EQ(t, recs[1].String(), "chr1:7")
	expect.EQ(t, string(recs[1].Column(6)), "q10")
	expect.EQ(t, string(recs[2].Column(10)), "0/1")
	assert.Nil(t, recs[2].Column(11))
	expect.EQ(t, r.NumWarnings(), 0)
	expect.EQ(t, r.Header().Samples, []string{"A", "B"})
}

func TestReaderStringency(t *testing.T) {
	bad := []string{
		"chr1\t5\t.\tG\tT\t.\t.\tXX=3\tGT\t0/0\t0/1\n",   // undeclared INFO
		"chr1\t6\t.\tG\tT\t.\t.\t.\tGT:AD\t0/0\t0/1\n",   // undeclared FORMAT
		"chr1\t7\t.\tG\tT\t.\t.\t.\tGT\t0/0\n",           // missing sample column
		"chr1\t8\t.\tG\tT\t.\t.\tDP\tGT\t0/0\t0/1\textra\n", // extra column
	}
	for _, line := range bad {
		_, _, err := readAll(t, testHeader+line, ReadOpts{Name: "in.vcf"})
		require.Error(t, err, "line: %q", line)
		verr, ok := errors.Cause(err).(*ValidationError)
		require.True(t, ok, "error: %v", err)
		expect.EQ(t, verr.Input, "in.vcf")
		expect.EQ(t, verr.Line, 9)
	}

	text := testHeader + strings.Join(bad, "")
	recs, r, err := readAll(t, text, ReadOpts{Stringency: Lenient})
	require.NoError(t, err)
	expect.EQ(t, len(recs), len(bad))
	expect.EQ(t, r.NumWarnings(), len(bad))

	recs, r, err = readAll(t, text, ReadOpts{Stringency: Silent})
	require.NoError(t, err)
	expect.EQ(t, len(recs), len(bad))
	expect.EQ(t, r.NumWarnings(), 0)
}

func TestReaderAlwaysInvalid(t *testing.T) {
	for _, line := range []string{
		"chr1\t5\t.\tG\tT\t.\t.\n",
		"chr1\t-3\t.\tG\tT\t.\t.\t.\tGT\t0/0\t0/1\n",
		"chr1\tfive\t.\tG\tT\t.\t.\t.\tGT\t0/0\t0/1\n",
		"\t5\t.\tG\tT\t.\t.\t.\tGT\t0/0\t0/1\n",
	} {
		for _, s := range []Stringency{Strict, Lenient, Silent} {
			_, _, err := readAll(t, testHeader+line, ReadOpts{Stringency: s})
			require.Error(t, err, "line: %q", line)
			_, ok := errors.Cause(err).(*ValidationError)
			assert.True(t, ok, "error: %v", err)
		}
	}
}

func TestReaderFormatWithoutSamples(t *testing.T) {
	header := "##fileformat=VCFv4.2\n##FORMAT=<ID=GT,Number=1,Type=String,Description=\"Genotype\">\n" +
		"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\n"
	recs, r, err := readAll(t, header+"chr1\t5\t.\tG\tT\t.\t.\t.\tGT\n", ReadOpts{Name: "in.vcf"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	expect.EQ(t, r.NumWarnings(), 0)
	assert.True(t, r.Header().HasFormat)

	// The FORMAT column is mandatory once declared.
	_, _, err = readAll(t, header+"chr1\t5\t.\tG\tT\t.\t.\t.\n", ReadOpts{Name: "in.vcf"})
	_, ok := errors.Cause(err).(*ValidationError)
	assert.True(t, ok, "error: %v", err)
}

func TestParseRecordPosZero(t *testing.T) {
	// POS 0 denotes a telomere.
	rec, err := ParseRecord([]byte("chr1\t0\t.\tN\t<DEL>\t.\t.\t."))
	require.NoError(t, err)
	expect.EQ(t, rec.Pos, 0)
	expect.EQ(t, rec.String(), "chr1:0")

	_, err = ParseRecord([]byte("chr1\t-1\t.\tN\tA\t.\t.\t."))
	assert.Error(t, err)
}

func TestParseStringency(t *testing.T) {
	for _, s := range []Stringency{Strict, Lenient, Silent} {
		got, err := ParseStringency(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	got, err := ParseStringency("lenient")
	require.NoError(t, err)
	assert.Equal(t, Lenient, got)
	_, err = ParseStringency("loose")
	assert.Error(t, err)
}
