package sorter

import (
	"fmt"

	"github.com/grailbio/vcfsort/encoding/vcf"
	"github.com/grailbio/vcfsort/seqdict"
)

// recCoord encodes the contig rank and the 1-based position of a record. The
// numeric order of recCoords is the sort order of the records.
type recCoord uint64

// maxPos is the largest position that fits in a recCoord.
const maxPos = 1<<32 - 1

// A key that's larger than any valid key. It marks the end of data in a
// spill block.
const invalidCoord recCoord = 0xffffffffffffffff

func makeCoord(rank, pos int) recCoord {
	return recCoord(rank)<<32 | recCoord(pos)
}

func parseCoord(coord recCoord) (rank, pos int) {
	return int(coord >> 32), int(coord & 0xffffffff)
}

func (r recCoord) String() string {
	rank, pos := parseCoord(r)
	return fmt.Sprintf("(%d,%d)", rank, pos)
}

// sortEntry is one record inside the sorter.
type sortEntry struct {
	coord recCoord
	body  []byte // the full VCF line, without the trailing newline.
}

func (k sortEntry) String() string {
	return fmt.Sprintf("%v:%d", k.coord, len(k.body))
}

// compare returns -1, 0, 1 if k < other, k == other, k > other, respectively.
// Records at the same coordinate compare equal; their relative order is
// decided by arrival.
func (k sortEntry) compare(other sortEntry) int {
	if k.coord < other.coord {
		return -1
	}
	if k.coord > other.coord {
		return 1
	}
	return 0
}

// Compare orders two records by (contig rank in dict, position). It returns
// -1, 0, 1 if a < b, a == b, a > b, respectively, or *seqdict.UnknownContigError
// if either contig is not in dict.
func Compare(dict *seqdict.Dictionary, a, b *vcf.Record) (int, error) {
	ra, err := dict.RankOf(a.Chrom)
	if err != nil {
		return 0, err
	}
	rb, err := dict.RankOf(b.Chrom)
	if err != nil {
		return 0, err
	}
	return sortEntry{coord: makeCoord(ra, a.Pos)}.compare(sortEntry{coord: makeCoord(rb, b.Pos)}), nil
}
