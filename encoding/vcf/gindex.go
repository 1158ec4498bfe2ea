package vcf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/vcfsort/biopb"
	"github.com/klauspost/compress/gzip"
)

// DefaultIndexByteInterval is the default spacing, in compressed bytes,
// between .gvi index entries.
const DefaultIndexByteInterval = 64 * 1024

// GIndex is the .gvi index of a BGZF-compressed, sorted .vcf.gz file. It
// maps a genomic coordinate to the voffset of a record in the file, so that
// a reader can seek close to any position without scanning from the start.
//
// The on disk format is a gzip stream holding the 16 byte magic
// {'G', 'V', 'I', '1', 0x9e, 0x3d, 0x51, 0x0a, 0x26, 0xc4, 0x7f, 0x82, 0x13, 0x65, 0xd8, 0xb7},
// followed by a sequence of entries. Each entry is four little-endian values:
//   1) int32 contig rank, i.e., index of the contig in the ##contig lines.
//   2) int32 1-based variant position.
//   3) uint32 sequence number of the record among the records at
//      (rank, position): 0 for the first, 1 for the second, and so on.
//   4) uint64 voffset of the record in the .vcf.gz file.
//
// Entries are sorted by (rank, position, sequence). There is an entry for the
// first record of every contig that has records, so the first entry points
// to the first record of the file. Within a contig, a new entry is added once
// the compressed file offset has advanced by at least the index byte interval
// since the previous entry, even in the middle of a run of records at one
// position.
type GIndex []GIndexEntry

// GIndexEntry is one entry of the .gvi index.
type GIndexEntry struct {
	Coord   biopb.Coord
	VOffset uint64
}

var gviMagic = []byte{
	'G', 'V', 'I', '1', 0x9e, 0x3d, 0x51, 0x0a,
	0x26, 0xc4, 0x7f, 0x82, 0x13, 0x65, 0xd8, 0xb7,
}

// RecordOffset returns a voffset from which reading forward eventually
// reaches the records at the target coordinate. If the first record read
// at or after the offset whose coordinate is >= target is > target, the
// file has no record at target. It panics if the index is empty.
func (idx GIndex) RecordOffset(target biopb.Coord) bgzf.Offset {
	if len(idx) < 1 {
		panic("GIndex must have at least one entry")
	}
	x := sort.Search(len(idx), func(i int) bool {
		return idx[i].Coord.GE(target)
	})
	if x == len(idx) {
		return ToBGZFOffset(idx[x-1].VOffset)
	}
	// If search returned an entry that is larger than target, back up one
	// entry, since records between the two entries may match.
	if idx[x].Coord.Compare(target) > 0 && x > 0 {
		x--
	}
	return ToBGZFOffset(idx[x].VOffset)
}

// ToBGZFOffset takes a uint64 voffset and returns a bgzf.Offset.
func ToBGZFOffset(voffset uint64) bgzf.Offset {
	return bgzf.Offset{File: int64(voffset >> 16), Block: uint16(voffset & 0xffff)}
}

// gIndexWriter writes a .gvi index file.
type gIndexWriter struct {
	gz           *gzip.Writer
	byteInterval uint64

	prevFileOffset uint64

	nRecords int
	last     biopb.Coord // coord of the last record, with its Seq.
}

func newGIndexWriter(w io.Writer, byteInterval int) (*gIndexWriter, error) {
	iw := &gIndexWriter{
		gz:           gzip.NewWriter(w),
		byteInterval: uint64(byteInterval),
	}
	n, err := iw.gz.Write(gviMagic)
	if err != nil {
		return nil, err
	}
	if n != len(gviMagic) {
		return nil, fmt.Errorf("short write to gvi header: %d should be %d", n, len(gviMagic))
	}
	return iw, nil
}

// add is called for every record, in file order, with the voffset at
// which the record starts. coord.Seq is ignored; add numbers the records at
// each position itself.
func (w *gIndexWriter) add(coord biopb.Coord, voffset uint64) error {
	coord.Seq = 0
	if w.nRecords > 0 {
		if coord.ContigId == w.last.ContigId && coord.Pos == w.last.Pos {
			coord.Seq = w.last.Seq + 1
		} else if coord.Compare(w.last) < 0 {
			return fmt.Errorf("gvi: record %+v is out of order, previous %+v", coord, w.last)
		}
	}
	newContig := w.nRecords == 0 || coord.ContigId != w.last.ContigId
	w.nRecords++
	w.last = coord

	fileOffset := voffset >> 16
	if !newContig && fileOffset-w.prevFileOffset < w.byteInterval {
		return nil
	}
	if err := binary.Write(w.gz, binary.LittleEndian, &GIndexEntry{Coord: coord, VOffset: voffset}); err != nil {
		return err
	}
	w.prevFileOffset = fileOffset
	return nil
}

func (w *gIndexWriter) close() error {
	return w.gz.Close()
}

// ReadGIndex expects a .gvi file as r, and returns the parsed GIndex.
func ReadGIndex(r io.Reader) (index GIndex, err error) {
	var gz *gzip.Reader
	if gz, err = gzip.NewReader(r); err != nil {
		return nil, err
	}
	defer func() {
		if cerr := gz.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	buf := make([]byte, len(gviMagic))
	if _, err = io.ReadFull(gz, buf); err != nil {
		return nil, err
	}
	if !bytes.Equal(gviMagic, buf) {
		return nil, fmt.Errorf("unexpected gvi magic: %v should be %v", buf, gviMagic)
	}

	index = GIndex{}
	for {
		entry := GIndexEntry{}
		if err = binary.Read(gz, binary.LittleEndian, &entry); err == io.EOF {
			err = nil
			break
		} else if err != nil {
			return nil, err
		}
		if n := len(index); n > 0 {
			prev := index[n-1]
			if prev.Coord.GE(entry.Coord) {
				return nil, fmt.Errorf("index positions are out of order: %+v must be less than %+v", prev, entry)
			}
			if prev.VOffset >= entry.VOffset {
				return nil, fmt.Errorf("voffsets are out of order: %+v must be less than %+v", prev, entry)
			}
		}
		index = append(index, entry)
	}
	return index, nil
}
