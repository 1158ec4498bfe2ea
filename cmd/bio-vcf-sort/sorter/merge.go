package sorter

import (
	"fmt"

	"blainsmith.com/go/seahash"
	"github.com/biogo/store/llrb"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/vcfsort/encoding/vcf"
	"v.io/x/lib/vlog"
)

// runReader reads one sorted run.
type runReader interface {
	// scan advances to the next record. It returns false at the end of the
	// run, or on error.
	scan() bool
	// key returns the current record. REQUIRES: scan() returned true.
	key() sortEntry
	// drain releases the reader's resources. It may be called before the end
	// of the run.
	drain()
	name() string
}

// memRunReader reads the in-memory resident run.
type memRunReader struct {
	recs []sortEntry
	i    int // index of the current record, plus one.
}

func (r *memRunReader) scan() bool {
	if r.i >= len(r.recs) {
		return false
	}
	r.i++
	return true
}

func (r *memRunReader) key() sortEntry { return r.recs[r.i-1] }

func (r *memRunReader) drain() {
	r.recs = nil
	r.i = 0
}

func (r *memRunReader) name() string { return "(memory)" }

// mergeLeaf is a node in the merge tree. It is the head of one run.
type mergeLeaf struct {
	// seq is the run sequence number. It breaks ties between runs, so that
	// records at equal keys come out in the order they were added.
	seq    uint32
	reader runReader
	done   bool // reader.scan() returned false?
}

func newMergeLeaf(seq uint32, reader runReader) *mergeLeaf {
	if !reader.scan() {
		return nil
	}
	return &mergeLeaf{seq: seq, reader: reader}
}

// Compare implements llrb.Comparable.
func (l *mergeLeaf) Compare(c1 llrb.Comparable) int {
	l1 := c1.(*mergeLeaf)
	if c := l.reader.key().compare(l1.reader.key()); c != 0 {
		return c
	}
	if l.seq < l1.seq {
		return -1
	}
	if l.seq > l1.seq {
		return 1
	}
	return 0
}

// Iterator yields the records of a Sorter in sorted order. It is created by
// Sorter.Finish.
type Iterator struct {
	s       *Sorter
	readers []runReader

	// Sort all the runs using a binary tree. This should be faster than
	// binary heap or tournament tree. The hope is that the leaf at the top
	// of the tree will stay at the top for many records. If that hope
	// holds, then tree will can maintain the sorted order in amortized O(1)
	// time, whereas heap always costs O(log(#runs)).
	leafs llrb.Tree
	// top is the smallest leaf, which produced cur. next is the 2nd smallest
	// leaf, or nil if top is the only leaf in the tree.
	top, next *mergeLeaf

	cur      sortEntry
	done     bool
	closed   bool
	nRecords uint64
	checksum uint64
}

func newIterator(s *Sorter, readers []runReader, seqs []uint32) *Iterator {
	it := &Iterator{s: s, readers: readers}
	for i, r := range readers {
		if l := newMergeLeaf(seqs[i], r); l != nil {
			vlog.VI(1).Infof("Leaf %v created, run %d", r.name(), seqs[i])
			it.leafs.Insert(l)
		}
	}
	vlog.VI(1).Infof("Merging %d runs, %d leafs active", len(readers), it.leafs.Len())
	return it
}

// Scan advances to the next record. It returns false at the end of the stream
// or on error; check Err afterwards.
func (it *Iterator) Scan() bool {
	if it.done {
		return false
	}
	if it.s.err.Err() != nil {
		it.done = true
		return false
	}
	if it.top != nil {
		// Keep reading from top while it stays below next.
		top := it.top
		top.done = !top.reader.scan()
		if !top.done && (it.next == nil || top.Compare(it.next) < 0) {
			return it.emit(top.reader.key())
		}
		// Move top into the proper place in the tree.
		lenBefore := it.leafs.Len()
		it.leafs.DeleteMin()
		if !top.done {
			it.leafs.Insert(top)
			if lenAfter := it.leafs.Len(); lenBefore != lenAfter {
				it.s.err.Set(errors.E(errors.Integrity, fmt.Sprintf("merge: leaf count changed from %d to %d", lenBefore, lenAfter)))
				it.done = true
				return false
			}
		}
		it.top, it.next = nil, nil
	}
	if it.leafs.Len() == 0 {
		it.done = true
		it.verify()
		return false
	}
	nthiter := 0
	it.leafs.Do(func(item llrb.Comparable) bool {
		nthiter++
		if nthiter == 1 {
			it.top = item.(*mergeLeaf)
			return false
		}
		it.next = item.(*mergeLeaf)
		return true
	})
	return it.emit(it.top.reader.key())
}

func (it *Iterator) emit(key sortEntry) bool {
	if it.nRecords > 0 && key.compare(it.cur) < 0 {
		it.s.err.Set(errors.E(errors.Integrity, fmt.Sprintf("merge: key %v decreased, last %v", key, it.cur)))
		it.done = true
		return false
	}
	it.cur = key
	it.nRecords++
	it.checksum += seahash.Sum64(key.body)
	return true
}

// verify checks that every record added to the Sorter came out exactly once.
func (it *Iterator) verify() {
	if it.s.err.Err() != nil {
		return
	}
	if it.nRecords != it.s.nRecords || it.checksum != it.s.checksum {
		it.s.err.Set(errors.E(errors.Integrity, fmt.Sprintf(
			"merge: added %d records (checksum %x), but merged %d records (checksum %x)",
			it.s.nRecords, it.s.checksum, it.nRecords, it.checksum)))
	}
}

// Record returns the current record. The record is valid until the next call
// to Scan. REQUIRES: Scan returned true.
func (it *Iterator) Record() *vcf.Record {
	rank, pos := parseCoord(it.cur.coord)
	return &vcf.Record{
		Chrom: it.s.dict.Contig(rank).Name,
		Pos:   pos,
		Line:  it.cur.body,
	}
}

// NumRecords returns the number of records produced so far.
func (it *Iterator) NumRecords() uint64 { return it.nRecords }

// Err returns the first error encountered by the Sorter or the Iterator.
func (it *Iterator) Err() error {
	return it.s.err.Err()
}

// Close stops the merge, and removes all temp files of the Sorter. It is safe
// to call Close before the end of the stream. It returns Err().
func (it *Iterator) Close() error {
	if !it.closed {
		it.closed = true
		it.done = true
		for _, r := range it.readers {
			r.drain()
		}
		it.top, it.next = nil, nil
		it.leafs = llrb.Tree{}
	}
	return it.s.Close()
}
