package sorter

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/grailbio/vcfsort/encoding/vcf"
	"github.com/grailbio/vcfsort/seqdict"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testContigs is deliberately not in lexicographic order.
var testContigs = []seqdict.Contig{
	{Name: "chr1"},
	{Name: "chr2"},
	{Name: "chr10"},
	{Name: "chrX"},
	{Name: "chrM", Length: 16569},
}

func testDict(t *testing.T) *seqdict.Dictionary {
	d, err := seqdict.New(testContigs)
	require.NoError(t, err)
	return d
}

func makeRecord(chrom string, pos int, id string) *vcf.Record {
	line := fmt.Sprintf("%s\t%d\t%s\tA\tC\t50\tPASS\tDP=%d", chrom, pos, id, pos%97)
	return &vcf.Record{Chrom: chrom, Pos: pos, Line: []byte(line)}
}

// randomRecords generates n records with random contigs and positions. The
// IDs are unique.
func randomRecords(r *rand.Rand, n int, prefix string) []*vcf.Record {
	recs := make([]*vcf.Record, n)
	for i := range recs {
		c := testContigs[r.Intn(len(testContigs))]
		recs[i] = makeRecord(c.Name, r.Intn(5000)+1, fmt.Sprintf("%s%d", prefix, i))
	}
	return recs
}

// sortRecords runs recs through a Sorter and returns the sorted records and
// the number of spills.
func sortRecords(t *testing.T, dict *seqdict.Dictionary, recs []*vcf.Record, opts SortOptions) ([]*vcf.Record, int) {
	s := NewSorter(dict, opts)
	for _, rec := range recs {
		require.NoError(t, s.AddRecord(rec))
	}
	it, err := s.Finish()
	require.NoError(t, err)
	expect.EQ(t, s.State(), Merging)
	var sorted []*vcf.Record
	for it.Scan() {
		rec := it.Record()
		sorted = append(sorted, &vcf.Record{
			Chrom: rec.Chrom,
			Pos:   rec.Pos,
			Line:  append([]byte{}, rec.Line...),
		})
	}
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())
	expect.EQ(t, s.State(), Closed)
	expect.EQ(t, it.NumRecords(), uint64(len(recs)))
	return sorted, s.NumSpills()
}

// checkSorted verifies that sorted is a sorted permutation of input.
func checkSorted(t *testing.T, dict *seqdict.Dictionary, input, sorted []*vcf.Record) {
	require.Equal(t, len(input), len(sorted))
	for i := 1; i < len(sorted); i++ {
		c, err := Compare(dict, sorted[i-1], sorted[i])
		require.NoError(t, err)
		require.Truef(t, c <= 0, "records %d (%v) and %d (%v) out of order", i-1, sorted[i-1], i, sorted[i])
	}
	want := map[string]int{}
	for _, rec := range input {
		want[string(rec.Line)]++
	}
	for _, rec := range sorted {
		want[string(rec.Line)]--
	}
	for line, n := range want {
		require.Equalf(t, 0, n, "record %q: count mismatch", line)
	}
}

func listSpillFiles(t *testing.T, dir string) []string {
	paths, err := filepath.Glob(filepath.Join(dir, "vcfsort-*"))
	require.NoError(t, err)
	return paths
}

func TestCompare(t *testing.T) {
	dict := testDict(t)
	for _, tc := range []struct {
		a, b *vcf.Record
		want int
	}{
		{makeRecord("chr1", 10, "a"), makeRecord("chr1", 10, "b"), 0},
		{makeRecord("chr1", 9, "a"), makeRecord("chr1", 10, "b"), -1},
		{makeRecord("chr1", 10000, "a"), makeRecord("chr2", 1, "b"), -1},
		// chr10 comes after chr2 in the dictionary, though not by name.
		{makeRecord("chr10", 1, "a"), makeRecord("chr2", 500, "b"), 1},
		{makeRecord("chrM", 1, "a"), makeRecord("chrX", 1, "b"), 1},
	} {
		c, err := Compare(dict, tc.a, tc.b)
		require.NoError(t, err)
		expect.EQ(t, c, tc.want, "%v vs %v", tc.a, tc.b)
		c, err = Compare(dict, tc.b, tc.a)
		require.NoError(t, err)
		expect.EQ(t, c, -tc.want, "%v vs %v", tc.b, tc.a)
	}
	_, err := Compare(dict, makeRecord("chrUn", 1, "a"), makeRecord("chr1", 1, "b"))
	_, ok := errors.Cause(err).(*seqdict.UnknownContigError)
	expect.True(t, ok, "%v", err)
}

func TestCoord(t *testing.T) {
	for _, tc := range []struct{ rank, pos int }{{0, 1}, {3, 12345}, {1 << 20, maxPos}} {
		rank, pos := parseCoord(makeCoord(tc.rank, tc.pos))
		expect.EQ(t, rank, tc.rank)
		expect.EQ(t, pos, tc.pos)
	}
	assert.True(t, makeCoord(0, maxPos) < makeCoord(1, 1))
	assert.True(t, makeCoord(5, maxPos) < invalidCoord)
}

func TestSortConservation(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup)
	dict := testDict(t)
	recs := randomRecords(rand.New(rand.NewSource(0)), 300, "r")

	for _, tc := range []struct {
		maxRecords int
		wantSpills int
	}{
		{1000, 0},
		{301, 0},
		{300, 1},
		{299, 1},
		{50, 6},
		{7, 42},
		{3, 100},
	} {
		for _, compress := range []bool{true, false} {
			t.Run(fmt.Sprintf("max=%d,compress=%v", tc.maxRecords, compress), func(t *testing.T) {
				sorted, nSpills := sortRecords(t, dict, recs, SortOptions{
					MaxRecordsInRAM:    tc.maxRecords,
					TmpDir:             tmpdir,
					Parallelism:        3,
					NoCompressTmpFiles: !compress,
				})
				expect.EQ(t, nSpills, tc.wantSpills)
				checkSorted(t, dict, recs, sorted)
				expect.EQ(t, len(listSpillFiles(t, tmpdir)), 0)
			})
		}
	}
}

func TestSortOneRecordPerRun(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup)
	dict := testDict(t)
	recs := randomRecords(rand.New(rand.NewSource(1)), 64, "r")
	sorted, nSpills := sortRecords(t, dict, recs, SortOptions{MaxRecordsInRAM: 1, TmpDir: tmpdir})
	expect.EQ(t, nSpills, 64)
	checkSorted(t, dict, recs, sorted)
	expect.EQ(t, len(listSpillFiles(t, tmpdir)), 0)
}

func TestSortIdempotent(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup)
	dict := testDict(t)
	recs := randomRecords(rand.New(rand.NewSource(2)), 1000, "r")
	opts := SortOptions{MaxRecordsInRAM: 128, TmpDir: tmpdir}
	sorted, _ := sortRecords(t, dict, recs, opts)
	checkSorted(t, dict, recs, sorted)
	resorted, _ := sortRecords(t, dict, sorted, opts)
	require.Equal(t, len(sorted), len(resorted))
	for i := range sorted {
		require.Equal(t, string(sorted[i].Line), string(resorted[i].Line), "record %d", i)
	}
}

func TestSortStableTies(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup)
	dict := testDict(t)
	var recs []*vcf.Record
	// Interleave two keys so that every run holds both.
	for i := 0; i < 100; i++ {
		recs = append(recs, makeRecord("chr2", 100, fmt.Sprintf("b%03d", i)))
		recs = append(recs, makeRecord("chr1", 100, fmt.Sprintf("a%03d", i)))
	}
	sorted, nSpills := sortRecords(t, dict, recs, SortOptions{MaxRecordsInRAM: 7, TmpDir: tmpdir, Parallelism: 4})
	expect.EQ(t, nSpills, 28)
	require.Len(t, sorted, 200)
	for i := 0; i < 100; i++ {
		expect.EQ(t, string(sorted[i].Column(2)), fmt.Sprintf("a%03d", i))
		expect.EQ(t, string(sorted[100+i].Column(2)), fmt.Sprintf("b%03d", i))
	}
}

// Three inputs of 40000 records each, with a 10000-record buffer, produce 12
// spills. All of them are removed at Close.
func TestSortTwelveSpills(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup)
	dict := testDict(t)
	r := rand.New(rand.NewSource(3))
	var recs []*vcf.Record
	for i := 0; i < 3; i++ {
		recs = append(recs, randomRecords(r, 40000, fmt.Sprintf("in%d_", i))...)
	}

	s := NewSorter(dict, SortOptions{MaxRecordsInRAM: 10000, TmpDir: tmpdir})
	for _, rec := range recs {
		require.NoError(t, s.AddRecord(rec))
	}
	it, err := s.Finish()
	require.NoError(t, err)
	expect.EQ(t, s.NumSpills(), 12)
	expect.EQ(t, len(listSpillFiles(t, tmpdir)), 12)

	var sorted []*vcf.Record
	for it.Scan() {
		rec := it.Record()
		sorted = append(sorted, &vcf.Record{Chrom: rec.Chrom, Pos: rec.Pos, Line: rec.Line})
	}
	require.NoError(t, it.Close())
	expect.EQ(t, len(sorted), 120000)
	checkSorted(t, dict, recs, sorted)
	expect.EQ(t, len(listSpillFiles(t, tmpdir)), 0)
}

func TestSortEmpty(t *testing.T) {
	sorted, nSpills := sortRecords(t, testDict(t), nil, SortOptions{})
	expect.EQ(t, nSpills, 0)
	expect.EQ(t, len(sorted), 0)
}

func TestSortUnknownContig(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup)
	dict := testDict(t)
	s := NewSorter(dict, SortOptions{MaxRecordsInRAM: 10, TmpDir: tmpdir})
	for i := 0; i < 25; i++ {
		require.NoError(t, s.AddRecord(makeRecord("chr1", i+1, "x")))
	}
	err := s.AddRecord(makeRecord("chrUnplaced", 5, "bad"))
	require.Error(t, err)
	uerr, ok := err.(*seqdict.UnknownContigError)
	require.True(t, ok, "%v", err)
	expect.EQ(t, uerr.Contig, "chrUnplaced")

	// The error is latched.
	expect.EQ(t, s.AddRecord(makeRecord("chr1", 1, "y")), err)
	_, ferr := s.Finish()
	expect.EQ(t, ferr, err)
	expect.EQ(t, s.Close(), err)
	expect.EQ(t, s.State(), Closed)
	expect.EQ(t, len(listSpillFiles(t, tmpdir)), 0)
}

func TestSortInvalidPosition(t *testing.T) {
	s := NewSorter(testDict(t))
	defer s.Close() // nolint: errcheck
	assert.Error(t, s.AddRecord(&vcf.Record{Chrom: "chr1", Pos: -1, Line: []byte("chr1\t-1")}))
}

func TestSortPositionZero(t *testing.T) {
	s := NewSorter(testDict(t))
	defer s.Close() // nolint: errcheck
	require.NoError(t, s.AddRecord(makeRecord("chr2", 1, "b")))
	require.NoError(t, s.AddRecord(makeRecord("chr1", 3, "a")))
	require.NoError(t, s.AddRecord(makeRecord("chr2", 0, "telomere")))
	require.NoError(t, s.AddRecord(makeRecord("chr1", 0, "start")))
	it, err := s.Finish()
	require.NoError(t, err)
	var got []string
	for it.Scan() {
		got = append(got, it.Record().String())
	}
	require.NoError(t, it.Err())
	expect.EQ(t, got, []string{"chr1:0", "chr1:3", "chr2:0", "chr2:1"})
	require.NoError(t, it.Close())
}

func TestSortCloseEarly(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup)
	dict := testDict(t)
	recs := randomRecords(rand.New(rand.NewSource(4)), 5000, "r")

	// Close while accumulating.
	s := NewSorter(dict, SortOptions{MaxRecordsInRAM: 500, TmpDir: tmpdir})
	for _, rec := range recs {
		require.NoError(t, s.AddRecord(rec))
	}
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	expect.EQ(t, len(listSpillFiles(t, tmpdir)), 0)
	assert.Error(t, s.AddRecord(recs[0]))
	_, err := s.Finish()
	assert.Error(t, err)

	// Close in the middle of the merge.
	s = NewSorter(dict, SortOptions{MaxRecordsInRAM: 500, TmpDir: tmpdir})
	for _, rec := range recs {
		require.NoError(t, s.AddRecord(rec))
	}
	it, err := s.Finish()
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		require.True(t, it.Scan())
	}
	require.NoError(t, it.Close())
	require.NoError(t, it.Close())
	assert.False(t, it.Scan())
	expect.EQ(t, len(listSpillFiles(t, tmpdir)), 0)
}

func TestSortBadTmpDir(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup)
	dict := testDict(t)
	s := NewSorter(dict, SortOptions{MaxRecordsInRAM: 2, TmpDir: filepath.Join(tmpdir, "nonexistent")})
	var err error
	for i := 0; i < 100 && err == nil; i++ {
		err = s.AddRecord(makeRecord("chr1", i+1, "x"))
	}
	if err == nil {
		_, err = s.Finish()
	}
	require.Error(t, err)
	_, ok := err.(*SpillIOError)
	expect.True(t, ok, "%v", err)
	expect.EQ(t, s.Close(), err)
}

func TestStateString(t *testing.T) {
	expect.EQ(t, Accumulating.String(), "Accumulating")
	expect.EQ(t, Closed.String(), "Closed")
	expect.EQ(t, State(99).String(), "State(99)")
}

func TestMain(m *testing.M) {
	shutdown := grail.Init()
	code := m.Run()
	shutdown()
	os.Exit(code)
}
