package vcf

import (
	"bufio"
	"io"
	"math"

	"github.com/grailbio/vcfsort/biopb"
	"github.com/grailbio/vcfsort/encoding/bgzf"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// WriteOpts configures a Writer.
type WriteOpts struct {
	// BGZF enables block-gzip compression of the output, as expected for
	// .vcf.gz files.
	BGZF bool
	// CompressionLevel is the gzip level of BGZF blocks. 0 means
	// gzip.DefaultCompression.
	CompressionLevel int
	// Index, if non-nil, receives the .gvi index of the output. It
	// requires BGZF, and the records must be sorted in the order of the
	// header's ##contig lines.
	Index io.Writer
	// IndexByteInterval is the approximate compressed-byte spacing of
	// index entries. 0 means DefaultIndexByteInterval.
	IndexByteInterval int
}

// Writer encodes a VCF text stream. Usage: call WriteHeader once, Write for
// each record, then Close.
type Writer struct {
	opts WriteOpts
	buf  *bufio.Writer // plain text only
	bgzf *bgzf.Writer
	out  io.Writer

	index     *gIndexWriter
	contigIDs map[string]int32

	headerWritten bool
	nRecords      int64
}

// NewWriter creates a Writer that writes to w. Close does not close w.
func NewWriter(w io.Writer, opts WriteOpts) (*Writer, error) {
	if opts.Index != nil && !opts.BGZF {
		return nil, errors.New("vcf: an index requires BGZF output")
	}
	if opts.IndexByteInterval <= 0 {
		opts.IndexByteInterval = DefaultIndexByteInterval
	}
	vw := &Writer{opts: opts}
	if opts.BGZF {
		level := opts.CompressionLevel
		if level == 0 {
			level = gzip.DefaultCompression
		}
		var err error
		if vw.bgzf, err = bgzf.NewWriter(w, level); err != nil {
			return nil, errors.Wrap(err, "vcf: create bgzf writer")
		}
		vw.out = vw.bgzf
	} else {
		vw.buf = bufio.NewWriterSize(w, 1<<20)
		vw.out = vw.buf
	}
	return vw, nil
}

// WriteHeader writes the header. It must be called exactly once, before
// any Write.
func (w *Writer) WriteHeader(h *Header) error {
	if w.headerWritten {
		return errors.New("vcf: WriteHeader called twice")
	}
	data, err := h.MarshalText()
	if err != nil {
		return err
	}
	if _, err := w.out.Write(data); err != nil {
		return err
	}
	w.headerWritten = true
	if w.opts.Index == nil {
		return nil
	}
	w.contigIDs = make(map[string]int32, len(h.Contigs))
	for i, c := range h.Contigs {
		w.contigIDs[c.ID] = int32(i)
	}
	if w.index, err = newGIndexWriter(w.opts.Index, w.opts.IndexByteInterval); err != nil {
		return errors.Wrap(err, "vcf: write index header")
	}
	return nil
}

// Write appends one record, followed by a newline.
func (w *Writer) Write(r *Record) error {
	if !w.headerWritten {
		return errors.New("vcf: Write called before WriteHeader")
	}
	data, err := r.MarshalText()
	if err != nil {
		return err
	}
	if w.index != nil {
		id, ok := w.contigIDs[r.Chrom]
		if !ok {
			return errors.Errorf("vcf: cannot index record %v: contig not in header", r)
		}
		if r.Pos > math.MaxInt32 {
			return errors.Errorf("vcf: cannot index record %v: position too large", r)
		}
		coord := biopb.Coord{ContigId: id, Pos: int32(r.Pos)}
		if err := w.index.add(coord, w.bgzf.VOffset()); err != nil {
			return err
		}
	}
	if _, err := w.out.Write(data); err != nil {
		return err
	}
	if _, err := w.out.Write(newline); err != nil {
		return err
	}
	w.nRecords++
	return nil
}

var newline = []byte{'\n'}

// NumRecords returns the number of records written so far.
func (w *Writer) NumRecords() int64 { return w.nRecords }

// Close flushes buffered data, terminates the BGZF stream and finishes the
// index.
func (w *Writer) Close() error {
	var err error
	if w.bgzf != nil {
		err = w.bgzf.Close()
	} else {
		err = w.buf.Flush()
	}
	if w.index != nil {
		if e := w.index.close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
