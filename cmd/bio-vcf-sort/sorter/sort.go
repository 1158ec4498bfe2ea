package sorter

import (
	"fmt"
	"io/ioutil"
	"os"
	"sort"
	"sync"

	"blainsmith.com/go/seahash"
	"code.cloudfoundry.org/bytefmt"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/vcfsort/encoding/vcf"
	"github.com/grailbio/vcfsort/seqdict"
	"v.io/x/lib/vlog"
)

// DefaultMaxRecordsInRAM is the default number of records to keep in memory
// before spilling them to a temp file.
const DefaultMaxRecordsInRAM = 500000

// DefaultParallelism is the default value for SortOptions.Parallelism.
const DefaultParallelism = 1

// SortOptions controls the memory and temp-file use of a Sorter.
type SortOptions struct {
	// MaxRecordsInRAM is the number of records to buffer before sorting the
	// buffer and spilling it to a temp file. The threshold counts records,
	// not bytes. If <= 0, DefaultMaxRecordsInRAM is used.
	MaxRecordsInRAM int

	// TmpDir defines the directory to store spill files. "" means the system
	// default, usually /tmp.
	TmpDir string

	// Parallelism limits the number of background spills. Max memory
	// consumption of the sorter is about (Parallelism+1)*MaxRecordsInRAM
	// records. If <= 0, DefaultParallelism is used.
	Parallelism int

	// NoCompressTmpFiles, if false (default), compresses spill files using
	// snappy.
	NoCompressTmpFiles bool
}

// State is the lifecycle stage of a Sorter.
type State int

const (
	// Accumulating means AddRecord may be called.
	Accumulating State = iota
	// Spilling means a full buffer is being handed to a spill worker.
	Spilling
	// Finalizing means Finish is waiting for spills and preparing the merge.
	Finalizing
	// Merging means the Iterator returned by Finish is being drained.
	Merging
	// Closed means all temp files are gone. The Sorter is unusable.
	Closed
)

var stateNames = []string{"Accumulating", "Spilling", "Finalizing", "Merging", "Closed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// sortBatch is a buffer sealed as run "seq".
type sortBatch struct {
	seq  uint32
	recs []sortEntry
}

// spillRun is one sorted run in a temp file.
type spillRun struct {
	seq        uint32
	path       string
	numRecords int
}

// Sorter sorts VCF records by (contig rank, position) using bounded memory.
// Records are buffered; when MaxRecordsInRAM records accumulate, the buffer is
// stable-sorted and written to a temp file (a "spill") by a background
// goroutine. Finish merges the spills with the remaining in-memory records.
//
// Records at the same (contig, position) come out in the order they were
// added, even across spills.
//
// Example:
//   s := NewSorter(dict, SortOptions{TmpDir: "/tmp"})
//   defer s.Close()
//   for _, rec := range records {
//     if err := s.AddRecord(rec); err != nil { ... }
//   }
//   it, err := s.Finish()
//   ...
//   for it.Scan() {
//     use it.Record()
//   }
//   err = it.Err()
//
// AddRecord and Finish must be called from one goroutine. After an error, the
// caller must still call Close, which removes all temp files.
type Sorter struct {
	options SortOptions
	dict    *seqdict.Dictionary
	pool    *spillBlockPool
	state   State

	recs     []sortEntry
	nextSeq  uint32 // seq of the next sealed run.
	nRecords uint64
	checksum uint64 // sum of seahash of the records added.

	err        errors.Once
	bgSorterCh chan sortBatch
	wg         sync.WaitGroup

	mu   sync.Mutex
	runs []spillRun // registry of the spill files.
	// paths lists every temp file created, including ones that failed
	// midway. Guarded by mu.
	paths []string
}

// NewSorter creates a Sorter. Records must name contigs in dict.
func NewSorter(dict *seqdict.Dictionary, optList ...SortOptions) *Sorter {
	options := SortOptions{}
	if len(optList) > 0 {
		if len(optList) > 1 {
			vlog.Fatalf("More than one options specified: %v", optList)
		}
		options = optList[0]
	}
	if options.MaxRecordsInRAM <= 0 {
		options.MaxRecordsInRAM = DefaultMaxRecordsInRAM
	}
	if options.Parallelism <= 0 {
		options.Parallelism = DefaultParallelism
	}
	vlog.VI(1).Infof("New Sorter: dict %v, %+v", dict, options)
	s := &Sorter{
		options:    options,
		dict:       dict,
		pool:       newSpillBlockPool(),
		bgSorterCh: make(chan sortBatch, options.Parallelism),
	}
	for i := 0; i < options.Parallelism; i++ {
		s.wg.Add(1)
		go func() {
			for batch := range s.bgSorterCh {
				if s.err.Err() != nil {
					continue // drop the batch; the session has failed.
				}
				s.spill(batch)
			}
			s.wg.Done()
		}()
	}
	return s
}

// State returns the current lifecycle stage. It must be called from the
// goroutine that calls AddRecord and Finish.
func (s *Sorter) State() State { return s.state }

// NumSpills returns the number of spill files written so far.
func (s *Sorter) NumSpills() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// NumRecords returns the number of records added so far.
func (s *Sorter) NumRecords() uint64 { return s.nRecords }

// AddRecord adds a record to the sorter. The sorter takes ownership of
// rec.Line; the caller shall not modify it after the call. It returns
// *seqdict.UnknownContigError if rec.Chrom is not in the dictionary. Any
// error is latched: later calls fail with the same error.
func (s *Sorter) AddRecord(rec *vcf.Record) error {
	if err := s.err.Err(); err != nil {
		return err
	}
	if s.state != Accumulating {
		return errors.E(errors.Invalid, fmt.Sprintf("sorter: AddRecord in state %v", s.state))
	}
	rank, err := s.dict.RankOf(rec.Chrom)
	if err != nil {
		s.err.Set(err)
		return err
	}
	if rec.Pos < 0 || rec.Pos > maxPos {
		err := errors.E(errors.Invalid, fmt.Sprintf("sorter: record %v: position out of range", rec))
		s.err.Set(err)
		return err
	}
	s.nRecords++
	s.checksum += seahash.Sum64(rec.Line)
	s.recs = append(s.recs, sortEntry{makeCoord(rank, rec.Pos), rec.Line})
	if len(s.recs) >= s.options.MaxRecordsInRAM {
		s.state = Spilling
		s.bgSorterCh <- sortBatch{seq: s.nextSeq, recs: s.recs}
		s.nextSeq++
		s.recs = nil
		s.state = Accumulating
	}
	return nil
}

func sortEntries(recs []sortEntry) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].compare(recs[j]) < 0
	})
}

// spill sorts the batch and writes it to a new temp file. It runs in a
// background goroutine.
func (s *Sorter) spill(batch sortBatch) {
	vlog.VI(1).Infof("Spilling run %d: %d records", batch.seq, len(batch.recs))
	temp, err := ioutil.TempFile(s.options.TmpDir, "vcfsort-")
	if err != nil {
		s.err.Set(&SpillIOError{Path: s.options.TmpDir, Err: err})
		return
	}
	path := temp.Name()
	s.mu.Lock()
	s.paths = append(s.paths, path)
	s.mu.Unlock()

	sortEntries(batch.recs)
	errReporter := errors.Once{}
	w := newSpillShardWriter(temp, path, batch.seq, !s.options.NoCompressTmpFiles, s.pool, &errReporter)
	for _, key := range batch.recs {
		w.add(key)
	}
	w.finish()
	if err := temp.Close(); err != nil {
		errReporter.Set(err)
	}
	if err := errReporter.Err(); err != nil {
		s.err.Set(&SpillIOError{Path: path, Err: err})
		return
	}
	if vlog.V(1) {
		if info, err := os.Stat(path); err == nil {
			vlog.Infof("Spilled run %d to %s: %d records, %s", batch.seq, path, len(batch.recs), bytefmt.ByteSize(uint64(info.Size())))
		}
	}
	s.mu.Lock()
	s.runs = append(s.runs, spillRun{seq: batch.seq, path: path, numRecords: len(batch.recs)})
	s.mu.Unlock()
}

// Finish must be called after adding all the records. It waits for the
// background spills and returns an iterator over all the records in sorted
// order. The Sorter must not be used after Finish, except for Close.
func (s *Sorter) Finish() (*Iterator, error) {
	if s.state != Accumulating {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("sorter: Finish in state %v", s.state))
	}
	s.state = Finalizing
	close(s.bgSorterCh)
	s.wg.Wait()
	if err := s.err.Err(); err != nil {
		s.Close() // nolint: errcheck
		return nil, err
	}

	sortEntries(s.recs)
	resident := &memRunReader{recs: s.recs}
	s.recs = nil

	// Spill workers may have finished out of order.
	sort.Slice(s.runs, func(i, j int) bool { return s.runs[i].seq < s.runs[j].seq })
	if len(s.runs) == 0 {
		vlog.VI(1).Infof("No spills; %d records sorted in memory", len(resident.recs))
	} else {
		want := uint64(len(s.runs)) + 64
		if limit, err := raiseOpenFileLimit(want); err != nil || limit < want {
			vlog.Errorf("sorter: merging %d runs, but could not raise the open file limit (limit %d): %v", len(s.runs), limit, err)
		}
	}
	readers := make([]runReader, 0, len(s.runs)+1)
	seqs := make([]uint32, 0, len(s.runs)+1)
	for _, run := range s.runs {
		readers = append(readers, newSpillShardReader(run.path, s.pool, &s.err))
		seqs = append(seqs, run.seq)
	}
	// The resident run holds the last records added, so it sorts after all
	// the spills at equal keys.
	readers = append(readers, resident)
	seqs = append(seqs, s.nextSeq)

	if err := s.err.Err(); err != nil {
		for _, r := range readers {
			r.drain()
		}
		s.Close() // nolint: errcheck
		return nil, err
	}
	s.state = Merging
	return newIterator(s, readers, seqs), nil
}

// Close removes all temp files and makes the Sorter unusable. It is
// idempotent, and may be called at any time after NewSorter; call it via
// defer. It returns the first error encountered during the session, if any.
func (s *Sorter) Close() error {
	switch s.state {
	case Closed:
		return s.err.Err()
	case Accumulating:
		close(s.bgSorterCh)
		s.wg.Wait()
	}
	s.state = Closed
	s.recs = nil
	s.mu.Lock()
	paths := s.paths
	s.paths = nil
	s.mu.Unlock()
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			vlog.Errorf("sort %v: failed to remove sorter tmp file: %v (%v)", path, err, s.err.Err())
		}
	}
	return s.err.Err()
}
