// Package biopb defines the genomic coordinate and the spill shard index
// messages shared by the VCF index and the sorter.
package biopb

// Coord is a (contig rank, position, sequence) triple. It has a fixed size,
// so .gvi index entries encode it with encoding/binary. Seq disambiguates
// multiple records at the same (ContigId, Pos); it is 0 for the first record
// at the position, 1 for the second, and so on.
type Coord struct {
	ContigId int32
	Pos      int32
	Seq      uint32
}

// Compare returns (negative int, 0, positive int) if (r<r1, r=r1, r>r1)
// respectively.
func (r Coord) Compare(r1 Coord) int {
	if r.ContigId != r1.ContigId {
		if r.ContigId < r1.ContigId {
			return -1
		}
		return 1
	}
	if r.Pos != r1.Pos {
		if r.Pos < r1.Pos {
			return -1
		}
		return 1
	}
	if r.Seq != r1.Seq {
		if r.Seq < r1.Seq {
			return -1
		}
		return 1
	}
	return 0
}

// GE returns true iff r >= r1.
func (r Coord) GE(r1 Coord) bool {
	return r.Compare(r1) >= 0
}
