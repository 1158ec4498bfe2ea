package sorter

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"code.cloudfoundry.org/bytefmt"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/vcfsort/encoding/vcf"
	"github.com/grailbio/vcfsort/seqdict"
	"golang.org/x/sync/errgroup"
)

// IndexSuffix is appended to the output path to name its index.
const IndexSuffix = ".gvi"

// decodeChanSize is the capacity of the channel between the decode lanes and
// the sorter.
const decodeChanSize = 1024

// Opts configures SortVCFs.
type Opts struct {
	SortOptions

	// Stringency is the validation stringency of the input records.
	Stringency vcf.Stringency
	// CreateIndex, if set, writes <output>.gvi next to a BGZF output. It is
	// ignored, with a warning, for plain-text output.
	CreateIndex bool
	// IndexByteInterval is the index granularity. 0 means
	// vcf.DefaultIndexByteInterval.
	IndexByteInterval int
	// SequenceDictionary, if nonempty, is the path of an external dictionary
	// (.dict, .fai, FASTA or VCF). It overrides the contigs of the inputs.
	SequenceDictionary string
	// DecodeParallelism is the max number of inputs decoded concurrently.
	// Values <= 1 read the inputs one by one, in order.
	DecodeParallelism int
	// ProgressInterval is the number of records between progress log lines.
	// 0 means DefaultProgressInterval.
	ProgressInterval int
}

// RecordWriter is the sink of a sorted stream. *vcf.Writer implements it.
type RecordWriter interface {
	WriteHeader(h *vcf.Header) error
	Write(r *vcf.Record) error
	Close() error
}

// SortVCFs sorts the records of the VCF files inPaths into one VCF file,
// outPath. The output is BGZF compressed if outPath ends with ".gz".
//
// The output is first written to a staging file next to outPath, and renamed
// to outPath only on success. On error, no file is left at outPath, and the
// sorter's temp files are removed.
func SortVCFs(ctx context.Context, inPaths []string, outPath string, opts Opts) (err error) {
	if len(inPaths) == 0 {
		return errors.E(errors.Invalid, "sorter: no input files")
	}
	var external *seqdict.Dictionary
	if opts.SequenceDictionary != "" {
		if external, err = seqdict.Load(ctx, opts.SequenceDictionary); err != nil {
			return err
		}
		log.Printf("Loaded sequence dictionary %s: %d contigs, fingerprint %x",
			opts.SequenceDictionary, external.Len(), external.Fingerprint())
	}

	inputs := make([]*inputSource, 0, len(inPaths))
	defer func() {
		for _, in := range inputs {
			in.close(ctx) // nolint: errcheck
		}
	}()
	names := make([]string, len(inPaths))
	headers := make([]*vcf.Header, len(inPaths))
	dictInputs := make([]seqdict.Input, len(inPaths))
	for i, path := range inPaths {
		in, err := openInput(ctx, path, opts.Stringency)
		if err != nil {
			return err
		}
		inputs = append(inputs, in)
		names[i] = path
		headers[i] = in.reader.Header()
		dictInputs[i] = seqdict.Input{Name: path, Header: headers[i]}
	}
	dict, err := seqdict.Resolve(external, dictInputs)
	if err != nil {
		return err
	}
	log.Debug.Printf("Resolved contig order: %v", dict)
	header, err := vcf.MergeHeaders(names, headers)
	if err != nil {
		return err
	}
	header.Contigs = dict.VCFContigs()

	s := NewSorter(dict, opts.SortOptions)
	defer s.Close() // nolint: errcheck
	if err = feed(ctx, s, inputs, opts); err != nil {
		return err
	}
	log.Printf("Read %d records from %d inputs; %d spill files", s.NumRecords(), len(inputs), s.NumSpills())
	it, err := s.Finish()
	if err != nil {
		return err
	}
	defer it.Close() // nolint: errcheck
	return writeOutput(ctx, header, it, outPath, opts)
}

// feed reads all the inputs into s. With opts.DecodeParallelism > 1, inputs
// are decoded concurrently, but AddRecord is still called from this goroutine
// only.
func feed(ctx context.Context, s *Sorter, inputs []*inputSource, opts Opts) error {
	progress := newProgressLogger("Read", opts.ProgressInterval)
	defer progress.done()
	if opts.DecodeParallelism <= 1 {
		for _, in := range inputs {
			err := decode(in, func(rec *vcf.Record) error {
				progress.record(rec)
				return s.AddRecord(rec)
			})
			if err != nil {
				return err
			}
			if err := in.close(ctx); err != nil {
				return err
			}
		}
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.DecodeParallelism)
	ch := make(chan *vcf.Record, decodeChanSize)
	var decodeErr error
	go func() {
		for _, in := range inputs {
			in := in
			g.Go(func() error {
				err := decode(in, func(rec *vcf.Record) error {
					select {
					case ch <- rec:
						return nil
					case <-gctx.Done():
						return gctx.Err()
					}
				})
				if err != nil {
					return err
				}
				return in.close(gctx)
			})
		}
		decodeErr = g.Wait()
		close(ch)
	}()
	var addErr error
	for rec := range ch {
		if addErr != nil {
			continue // drain so the decoders can exit.
		}
		progress.record(rec)
		if addErr = s.AddRecord(rec); addErr != nil {
			cancel()
		}
	}
	if addErr != nil {
		return addErr
	}
	return decodeErr
}

// decode calls fn for every record of in.
func decode(in *inputSource, fn func(*vcf.Record) error) error {
	for {
		rec, err := in.reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// writeOutput writes the sorted stream to a staging file and renames it to
// outPath.
func writeOutput(ctx context.Context, header *vcf.Header, it *Iterator, outPath string, opts Opts) (err error) {
	wopts := vcf.WriteOpts{
		BGZF:              strings.HasSuffix(outPath, ".gz"),
		IndexByteInterval: opts.IndexByteInterval,
	}
	stagingPath := fmt.Sprintf("%s.%d.tmp", outPath, os.Getpid())
	indexPath, indexStagingPath := "", ""
	if opts.CreateIndex {
		if wopts.BGZF {
			indexPath = outPath + IndexSuffix
			indexStagingPath = fmt.Sprintf("%s.%d.tmp", indexPath, os.Getpid())
		} else {
			log.Printf("%s: not BGZF compressed; skipping the index", outPath)
		}
	}

	var out, indexOut file.File
	defer func() {
		if err == nil {
			return
		}
		for _, f := range []file.File{out, indexOut} {
			if f != nil {
				f.Close(ctx) // nolint: errcheck
			}
		}
		for _, path := range []string{stagingPath, indexStagingPath} {
			if path == "" {
				continue
			}
			if rerr := file.Remove(ctx, path); rerr != nil && !os.IsNotExist(rerr) {
				log.Error.Printf("%s: failed to remove staging file: %v", path, rerr)
			}
		}
	}()
	if out, err = file.Create(ctx, stagingPath); err != nil {
		return &WriteIOError{Path: stagingPath, Err: err}
	}
	if indexStagingPath != "" {
		if indexOut, err = file.Create(ctx, indexStagingPath); err != nil {
			return &WriteIOError{Path: indexStagingPath, Err: err}
		}
		wopts.Index = indexOut.Writer(ctx)
	}
	w, err := vcf.NewWriter(out.Writer(ctx), wopts)
	if err != nil {
		return &WriteIOError{Path: outPath, Err: err}
	}
	if err = writeSorted(w, header, it, outPath, opts.ProgressInterval); err != nil {
		return err
	}
	if err = w.Close(); err != nil {
		return &WriteIOError{Path: outPath, Err: err}
	}
	// Runs the end-of-stream integrity check one more time, and removes the
	// spill files before the output appears.
	if err = it.Close(); err != nil {
		return err
	}
	f := out
	out = nil
	if err = f.Close(ctx); err != nil {
		return &WriteIOError{Path: stagingPath, Err: err}
	}
	if indexOut != nil {
		f := indexOut
		indexOut = nil
		if err = f.Close(ctx); err != nil {
			return &WriteIOError{Path: indexStagingPath, Err: err}
		}
	}
	if err = os.Rename(stagingPath, outPath); err != nil {
		return &WriteIOError{Path: outPath, Err: err}
	}
	if indexPath != "" {
		if err = os.Rename(indexStagingPath, indexPath); err != nil {
			os.Remove(outPath) // nolint: errcheck
			return &WriteIOError{Path: indexPath, Err: err}
		}
	}
	if info, serr := os.Stat(outPath); serr == nil {
		log.Printf("Wrote %s: %s", outPath, bytefmt.ByteSize(uint64(info.Size())))
	}
	return nil
}

// writeSorted writes the header, then every record of it in order. outPath
// names the destination in errors.
func writeSorted(w RecordWriter, header *vcf.Header, it *Iterator, outPath string, progressInterval int) error {
	if err := w.WriteHeader(header); err != nil {
		return &WriteIOError{Path: outPath, Err: err}
	}
	progress := newProgressLogger("Wrote", progressInterval)
	for it.Scan() {
		rec := it.Record()
		if err := w.Write(rec); err != nil {
			return &WriteIOError{Path: outPath, Err: err}
		}
		progress.record(rec)
	}
	if err := it.Err(); err != nil {
		return err
	}
	progress.done()
	return nil
}
