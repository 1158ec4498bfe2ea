package sorter

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/gogo/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/vcfsort/biopb"
	"v.io/x/lib/vlog"
)

// A spill shard is a temp file that stores one sorted run. The file is a
// recordio, where one recordio block stores a list of records in the
// following format, without padding between records:
//
//   key uint64        // recCoord of the record
//   bytes uint32      // size of the record, in bytes
//   data [bytes]byte  // the VCF line
//
// Each recordio block is approx. spillBlockSize bytes long, pre-compression.
// A block with a record larger than spillBlockSize holds just that record.
//
// The recordio trailer stores a serialized biopb.SpillShardIndex. It tells
// whether the blocks are snappy-compressed, how many records the shard holds,
// and the file offset of each block.
type spillBlock []byte

// spillBuf stores contents of a recordio block during writes.
type spillBuf struct {
	buf       spillBlock
	remaining []byte    // part of buf[].
	startKey  sortEntry // first key in the block, set iff nRecords>0.
	nRecords  int       // # of records stored in buf.
}

const spillBlockSize = 1 << 20   // size of one spillBlock.buf
const spillRecordHeaderSize = 12 // 8 byte recCoord + 4 byte record size.

// spillShardWriter produces a spill shard file.
//
// Example:
//   err := errors.Once{}
//   pool := newSpillBlockPool()
//   w := newSpillShardWriter(out, path, seq, true, pool, &err)
//   for _, key := range sortedEntries {
//     w.add(key)
//   }
//   w.finish()
//   if err.Err() != nil { ... }
type spillShardWriter struct {
	path string
	rio  recordio.Writer
	err  *errors.Once

	lastKey  sortEntry
	curBlock spillBuf // The block currently written to in add().
	pool     *spillBlockPool

	indexMu sync.Mutex
	index   biopb.SpillShardIndex
}

func (w *spillShardWriter) newBuf() spillBuf {
	buf := w.pool.getBuf()
	return spillBuf{buf: buf, remaining: buf}
}

// newSpillShardWriter creates a writer for run "seq". path is used only for
// error messages. Any error is reported through errReporter.
func newSpillShardWriter(out io.Writer, path string, seq uint32, compress bool,
	pool *spillBlockPool, errReporter *errors.Once) *spillShardWriter {
	w := &spillShardWriter{
		path:  path,
		err:   errReporter,
		pool:  pool,
		index: biopb.SpillShardIndex{Snappy: compress, RunSeq: seq},
	}
	w.curBlock = w.newBuf()
	w.rio = recordio.NewWriter(out, recordio.WriterOpts{
		Marshal: func(scratch []byte, v interface{}) ([]byte, error) {
			return v.(spillBuf).buf, nil
		},
		Index: func(loc recordio.ItemLocation, v interface{}) error {
			b := v.(spillBuf)
			if loc.Item != 0 { // one item per block
				return fmt.Errorf("spill shard %s: unexpected item location %+v", path, loc)
			}
			w.indexMu.Lock()
			w.index.Blocks = append(w.index.Blocks, &biopb.SpillShardBlockIndex{
				StartKey:   uint64(b.startKey.coord),
				FileOffset: loc.Block,
				NumRecords: uint32(b.nRecords),
			})
			w.indexMu.Unlock()
			w.pool.putBuf(b.buf)
			return nil
		},
	})
	w.rio.AddHeader(recordio.KeyTrailer, true)
	return w
}

// add appends a record. Records must be added in nondecreasing key order.
func (w *spillShardWriter) add(key sortEntry) {
	if key.coord == invalidCoord {
		w.err.Set(errors.E(errors.Invalid, fmt.Sprintf("spill shard %s: invalid key %v", w.path, key)))
		return
	}
	if w.index.NumRecords > 0 && key.compare(w.lastKey) < 0 {
		w.err.Set(errors.E(errors.Integrity, fmt.Sprintf("spill shard %s: key %v decreased, last %v", w.path, key, w.lastKey)))
		return
	}
	w.lastKey = key
	if w.tryAdd(key) {
		return // Common case.
	}
	w.flush()
	if need := spillRecordHeaderSize + len(key.body); need > len(w.curBlock.buf) {
		vlog.VI(1).Infof("spill shard %s: record %v needs a %d byte block", w.path, key, need)
		w.pool.putBuf(w.curBlock.buf)
		w.curBlock.buf = make(spillBlock, need)
		w.curBlock.remaining = w.curBlock.buf
	}
	if !w.tryAdd(key) {
		panic(key)
	}
}

// finish flushes pending data and writes the index. An error is reported
// through w.err. "w" becomes invalid after the call.
func (w *spillShardWriter) finish() {
	w.flush()
	w.pool.putBuf(w.curBlock.buf)
	w.curBlock.buf = nil

	// The index is never compressed; the snappy flag itself is in the index.
	w.rio.Wait()
	indexBytes, err := proto.Marshal(&w.index)
	if err != nil {
		w.err.Set(err)
		return
	}
	w.rio.SetTrailer(indexBytes)
	w.err.Set(w.rio.Finish())
}

func (w *spillShardWriter) flush() {
	if w.curBlock.nRecords == 0 {
		return
	}
	b := w.curBlock
	w.curBlock = w.newBuf()

	data := b.bytes()
	if w.index.Snappy {
		compressed := snappy.Encode(w.pool.getBuf(), data)
		w.pool.putBuf(b.buf)
		b.buf = compressed
	} else {
		b.buf = data
	}
	w.rio.Append(b)
	w.rio.Flush()
}

// bytes returns the part of the buffer that holds records added so far.
func (b *spillBuf) bytes() []byte {
	n := len(b.buf) - len(b.remaining)
	return b.buf[:n]
}

func (w *spillShardWriter) tryAdd(key sortEntry) bool {
	b := &w.curBlock
	if len(b.remaining) < spillRecordHeaderSize+len(key.body) {
		return false
	}
	binary.LittleEndian.PutUint64(b.remaining[:8], uint64(key.coord))
	binary.LittleEndian.PutUint32(b.remaining[8:12], uint32(len(key.body)))
	copy(b.remaining[spillRecordHeaderSize:], key.body)
	b.remaining = b.remaining[spillRecordHeaderSize+len(key.body):]
	if b.nRecords == 0 {
		b.startKey = key
	}
	b.nRecords++
	w.index.NumRecords++
	return true
}

// spillBlockParser extracts records from a spillBlock.
//
// Example:
//   for p.reset(buf); !p.done(); p.next() {
//      vlog.Infof("Key %v", p.key())
//   }
type spillBlockParser struct {
	curKey sortEntry // The current key. EOD iff curKey.coord==invalidCoord.
	buf    []byte    // Records that remain to be read.
}

func (p *spillBlockParser) reset(buf spillBlock) {
	p.buf = []byte(buf)
	p.next()
}

func (p *spillBlockParser) next() {
	if len(p.buf) < spillRecordHeaderSize {
		p.curKey = sortEntry{invalidCoord, nil}
		return
	}
	p.curKey.coord = recCoord(binary.LittleEndian.Uint64(p.buf[:8]))
	if p.curKey.coord == invalidCoord {
		return
	}
	recLen := binary.LittleEndian.Uint32(p.buf[8:12])
	if uint64(len(p.buf)) < spillRecordHeaderSize+uint64(recLen) {
		p.curKey.coord = invalidCoord
		return
	}
	p.curKey.body = make([]byte, recLen)
	copy(p.curKey.body, p.buf[spillRecordHeaderSize:spillRecordHeaderSize+recLen])
	p.buf = p.buf[spillRecordHeaderSize+recLen:]
}

func (p *spillBlockParser) done() bool {
	return p.curKey.coord == invalidCoord
}

// spillShardReader reads a spill shard file. Blocks are read and decompressed
// by a background goroutine.
//
// Example:
//   err := errors.Once{}
//   pool := newSpillBlockPool()
//   r := newSpillShardReader(path, pool, &err)
//   for r.scan() {
//     use r.key()
//   }
//   r.drain()
//   if err.Err() != nil { ... }
type spillShardReader struct {
	path  string
	rawIn file.File
	rio   recordio.Scanner
	index biopb.SpillShardIndex
	pool  *spillBlockPool
	err   *errors.Once

	lastKey sortEntry // last key read.
	nRead   uint64

	parser spillBlockParser
	buf    spillBlock
	ch     chan spillBlock
	// draining becomes 1 on drain(). It tells the asyncRead goroutine to
	// finish asap. It must be accessed via atomic loads and stores.
	draining int32
}

// readSpillShardIndex reads the index block in the spill shard file.
func readSpillShardIndex(rio recordio.Scanner) (biopb.SpillShardIndex, error) {
	index := biopb.SpillShardIndex{}
	header := rio.Header()
	if !header.HasTrailer() {
		return index, fmt.Errorf("no index found in spill shard (header: %+v, version %+v)", header, rio.Version())
	}
	if err := proto.Unmarshal(rio.Trailer(), &index); err != nil {
		return index, err
	}
	return index, nil
}

// newSpillShardReader creates a reader for the spill shard "path". Any error
// is reported through errReporter as a *SpillIOError.
func newSpillShardReader(path string, pool *spillBlockPool, errReporter *errors.Once) *spillShardReader {
	r := &spillShardReader{
		path: path,
		pool: pool,
		err:  errReporter,
		// The parser is initially at done() state.
		parser: spillBlockParser{curKey: sortEntry{invalidCoord, nil}},
		ch:     make(chan spillBlock, 1),
	}
	ctx := vcontext.Background()
	cleanupOnError := func(err error) *spillShardReader {
		r.setErr(err)
		close(r.ch)
		if r.rawIn != nil {
			r.setErr(r.rawIn.Close(ctx))
		}
		return r
	}
	var err error
	if r.rawIn, err = file.Open(ctx, path); err != nil {
		return cleanupOnError(err)
	}
	r.rio = recordio.NewScanner(r.rawIn.Reader(ctx), recordio.ScannerOpts{})
	if r.index, err = readSpillShardIndex(r.rio); err != nil {
		return cleanupOnError(err)
	}
	vlog.VI(1).Infof("%v: created spill shard reader, run %d, %d records, %d blocks",
		path, r.index.RunSeq, r.index.NumRecords, len(r.index.Blocks))
	go func() {
		r.asyncRead()
		r.setErr(r.rawIn.Close(ctx))
		close(r.ch)
	}()
	return r
}

func (r *spillShardReader) setErr(err error) {
	if err != nil {
		r.err.Set(&SpillIOError{Path: r.path, Err: err})
	}
}

func (r *spillShardReader) scan() bool {
	if !r.parser.done() {
		r.parser.next()
	}
	for r.parser.done() {
		if r.buf != nil {
			r.pool.putBuf(r.buf)
			r.buf = nil
		}
		buf, ok := <-r.ch
		if !ok {
			if r.nRead != r.index.NumRecords && r.err.Err() == nil {
				r.err.Set(errors.E(errors.Integrity,
					fmt.Sprintf("spill shard %s: read %d records, index says %d", r.path, r.nRead, r.index.NumRecords)))
			}
			return false
		}
		r.buf = buf
		r.parser.reset(buf)
	}
	if r.nRead > 0 && r.parser.curKey.compare(r.lastKey) < 0 {
		r.err.Set(errors.E(errors.Integrity,
			fmt.Sprintf("spill shard %s: key %v decreased, last %v", r.path, r.parser.curKey, r.lastKey)))
		return false
	}
	r.lastKey = r.parser.curKey
	r.nRead++
	return true
}

// key returns the key of the current record.
//
// REQUIRES: scan() returned true.
func (r *spillShardReader) key() sortEntry {
	return r.parser.curKey
}

func (r *spillShardReader) name() string { return r.path }

// drain should be called when quitting reads before reaching the end of
// shard. It cleans up the reader state.  It's ok to call drain() after
// successful end of reads.
func (r *spillShardReader) drain() {
	go func() {
		n := 0
		atomic.StoreInt32(&r.draining, 1)
		for range r.ch {
			n++
		}
		vlog.VI(1).Infof("drain %v: dropped %d blocks", r.path, n)
	}()
}

// asyncRead reads a sequence of raw spillBlocks and sends them to "r.ch".
func (r *spillShardReader) asyncRead() {
	for r.rio.Scan() && atomic.LoadInt32(&r.draining) == 0 {
		rioData := r.rio.Get().([]byte)
		var block spillBlock
		if r.index.Snappy {
			n, err := snappy.DecodedLen(rioData)
			if err != nil {
				r.setErr(err)
				return
			}
			if block, err = snappy.Decode(r.pool.getBufSize(n), rioData); err != nil {
				r.setErr(err)
				return
			}
		} else {
			block = r.pool.getBufSize(len(rioData))
			copy(block, rioData)
		}
		r.ch <- block // This may block
	}
	r.setErr(r.rio.Err())
}

// spillBlockPool is a freepool of spillBlocks.
type spillBlockPool struct {
	sync.Pool
}

// getBuf gets a spillBlock from the pool. The caller should call putBuf(buf)
// after use.
func (p *spillBlockPool) getBuf() spillBlock {
	b := p.Get().(spillBlock)
	if cap(b) < spillBlockSize {
		b = make(spillBlock, spillBlockSize)
	} else {
		b = b[:spillBlockSize]
	}
	return b
}

// getBufSize is like getBuf, but the result has length n.
func (p *spillBlockPool) getBufSize(n int) spillBlock {
	b := p.Get().(spillBlock)
	if cap(b) < n {
		b = make(spillBlock, n)
	}
	return b[:n]
}

func (p *spillBlockPool) putBuf(b spillBlock) {
	p.Put(b) // nolint: megacheck
}

func newSpillBlockPool() *spillBlockPool {
	return &spillBlockPool{sync.Pool{New: func() interface{} { return spillBlock{} }}}
}
