// Package bgzf includes a Writer for the .bgzf (block gzipped) file
// format.  A .bgzf file consists of one or more complete gzip blocks
// concatenated together.  Each of the gzip blocks must represent at
// most 64KB of uncompressed data, and the compressed size of the
// block must be at most 64KB.  A valid .bgzf file ends with the 28
// byte .bgzf terminator; the terminator is a valid gzip block
// containing an empty payload.
//
// Compressed VCF files (.vcf.gz) produced by bio-vcf-sort are .bgzf
// files, so that they can be indexed and randomly accessed.
//
// For more information about the .bgzf file format, see the SAM/BAM
// spec here: https://samtools.github.io/hts-specs/SAMv1.pdf
//
// Example:
//   var bgzfFile bytes.Buffer
//   w, err := NewWriter(&bgzfFile, gzip.DefaultCompression)
//   n, err := w.Write([]byte("Foo bar"))
//   voffset := w.VOffset()
//   err = w.Close()
package bgzf

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

const (
	// DefaultUncompressedBlockSize is the default bgzf
	// uncompressedBlockSize chosen by both sambamba and htslib.
	DefaultUncompressedBlockSize = 0x0ff00

	// MaxUncompressedBlockSize is the largest legal value for
	// uncompressedBlockSize.
	MaxUncompressedBlockSize = 0x10000

	// compressedBlockSize is the maximum size of the compressed data
	// for a Bgzf block.
	compressedBlockSize = 0x10000
)

var (
	// bgzfExtra goes into the gzip's Extra subfield, with subfield
	// ids: 66, 67, and length 2.  See the SAM/BAM spec.
	bgzfExtra       = [...]byte{66, 67, 2, 0, 0, 0}
	bgzfExtraPrefix = [...]byte{66, 67, 2, 0}

	// terminator is the Bgzf EOF marker.
	terminator = []byte{
		0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0x06, 0x00, 0x42, 0x43,
		0x02, 0x00, 0x1b, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
)

// blockCompressor wraps a reusable gzip writer that emits one gzip member
// per bgzf block.
type blockCompressor struct {
	level int
	gz    *gzip.Writer
}

func (c *blockCompressor) reset(w io.Writer) (*gzip.Writer, error) {
	if c.gz == nil {
		var err error
		if c.gz, err = gzip.NewWriterLevel(w, c.level); err != nil {
			return nil, err
		}
	} else {
		c.gz.Reset(w)
	}
	c.gz.Header.Extra = make([]byte, len(bgzfExtra))
	copy(c.gz.Header.Extra[:], bgzfExtra[:])
	c.gz.Header.OS = 0xff // Unknown OS value
	return c.gz, nil
}

// Writer compresses data into .bgzf format.  Each gzip block has an
// uncompressed size of at most 64KB, and its Extra header field holds
// the compressed block size - 1.  The payload of the .bgzf file is the
// in-order concatenation of all the uncompressed payloads.
//
// Writer is not thread safe.
type Writer struct {
	compressor       blockCompressor
	uncompressedSize int
	xfl              int
	w                io.Writer
	original         bytes.Buffer
	compressed       bytes.Buffer
	coffset          uint64 // starting file position of the current gzip block
}

// NewWriter returns a new .bgzf writer with the given gzip compression
// level.
func NewWriter(w io.Writer, level int) (*Writer, error) {
	return NewWriterParams(w, level, DefaultUncompressedBlockSize, -1)
}

// NewWriterParams returns a new .bgzf writer with the given
// configuration parameters.  uncompressedBlockSize is the largest
// number of bytes to put into each .bgzf block.  gzipXFL will be
// written to the XFL gzip header field for each of the gzip blocks in
// the output; if gzipXFL is -1, the value chosen by the gzip library
// is kept.
func NewWriterParams(w io.Writer, level, uncompressedBlockSize, gzipXFL int) (*Writer, error) {
	if uncompressedBlockSize <= 0 || uncompressedBlockSize > MaxUncompressedBlockSize {
		return nil, fmt.Errorf("uncompressedBlockSize %d must be in (0, %d]",
			uncompressedBlockSize, MaxUncompressedBlockSize)
	}
	if gzipXFL != -1 && (gzipXFL < 0 || gzipXFL > 255) {
		return nil, fmt.Errorf("gzipXFL must be -1 or in [0:255] not %d", gzipXFL)
	}
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		return nil, fmt.Errorf("invalid gzip level %d", level)
	}
	return &Writer{
		compressor:       blockCompressor{level: level},
		uncompressedSize: uncompressedBlockSize,
		xfl:              gzipXFL,
		w:                w,
	}, nil
}

// Write writes buf to the .bgzf payload.  Returns the number of bytes
// consumed from buf and any error encountered.
func (w *Writer) Write(buf []byte) (int, error) {
	for i := 0; i < len(buf); {
		// Copy at most one block at a time, so that the payload is never
		// duplicated in full.
		end := len(buf)
		if limit := i + w.uncompressedSize - w.original.Len(); limit < end {
			end = limit
		}
		n, _ := w.original.Write(buf[i:end])
		i += n
		if err := w.tryCompress(false); err != nil {
			return i, err
		}
	}
	return len(buf), nil
}

// CloseWithoutTerminator closes the current .bgzf block, but does not
// append the .bgzf terminator.
func (w *Writer) CloseWithoutTerminator() error {
	return w.tryCompress(true)
}

// Close the current .bgzf block and also append the .bgzf terminator.
// It does not close the underlying writer.
func (w *Writer) Close() error {
	if err := w.CloseWithoutTerminator(); err != nil {
		return err
	}
	_, err := w.w.Write(terminator)
	return err
}

// tryCompress compresses full blocks from w.original, or also the partial
// block when compressRemainder is set, and writes them to w.w.
func (w *Writer) tryCompress(compressRemainder bool) error {
	for w.original.Len() >= w.uncompressedSize || (compressRemainder && w.original.Len() > 0) {
		gz, err := w.compressor.reset(&w.compressed)
		if err != nil {
			return err
		}
		if _, err := gz.Write(w.original.Next(w.uncompressedSize)); err != nil {
			return err
		}
		if err := gz.Close(); err != nil {
			return err
		}

		b := w.compressed.Bytes()
		if w.xfl >= 0 {
			b[8] = byte(w.xfl) // offset of the XFL field in the gzip header.
		}

		// Replace the bgzf BSIZE field with compressed length - 1.
		const extraOffset = 12
		bsize := w.compressed.Len() - 1
		if bsize >= compressedBlockSize {
			return fmt.Errorf("bgzf compressed block is too big: %d > %d", bsize, compressedBlockSize)
		}
		if len(b) < extraOffset+len(bgzfExtra) ||
			!bytes.Equal(b[extraOffset:extraOffset+len(bgzfExtraPrefix)], bgzfExtraPrefix[:]) {
			return fmt.Errorf("bgzf: malformed gzip header (%d bytes)", len(b))
		}
		b[extraOffset+4] = byte(bsize)
		b[extraOffset+5] = byte(bsize >> 8)

		sz := w.compressed.Len()
		if _, err := w.compressed.WriteTo(w.w); err != nil {
			return err
		}
		w.coffset += uint64(sz)
	}
	return nil
}

// VOffset returns the virtual-offset of the next byte to be written.
func (w *Writer) VOffset() uint64 {
	return w.coffset<<16 | uint64(w.original.Len())
}
