package sorter

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func writeSpillShard(t *testing.T, path string, compress bool, entries []sortEntry) {
	out, err := os.Create(path)
	require.NoError(t, err)
	e := errors.Once{}
	w := newSpillShardWriter(out, path, 7, compress, newSpillBlockPool(), &e)
	for _, key := range entries {
		w.add(key)
	}
	w.finish()
	require.NoError(t, out.Close())
	require.NoError(t, e.Err())
}

func TestSpillShardRoundTrip(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup)

	var entries []sortEntry
	for i := 0; i < 50000; i++ {
		line := fmt.Sprintf("chr%d\t%d\t.\tA\tT\t.\t.\t.", i/10000, i%10000+1)
		entries = append(entries, sortEntry{makeCoord(i/10000, i%10000+1), []byte(line)})
	}
	// A record larger than a block.
	big := bytes.Repeat([]byte("G"), spillBlockSize+100)
	entries = append(entries, sortEntry{makeCoord(5, 1), big})
	entries = append(entries, sortEntry{makeCoord(5, 2), []byte("tail")})

	for _, compress := range []bool{true, false} {
		path := filepath.Join(tmpdir, fmt.Sprintf("shard-%v", compress))
		writeSpillShard(t, path, compress, entries)

		e := errors.Once{}
		r := newSpillShardReader(path, newSpillBlockPool(), &e)
		expect.EQ(t, r.index.Snappy, compress)
		expect.EQ(t, r.index.RunSeq, uint32(7))
		expect.EQ(t, r.index.NumRecords, uint64(len(entries)))
		expect.True(t, len(r.index.Blocks) > 1)
		n := 0
		for r.scan() {
			key := r.key()
			require.Equal(t, entries[n].coord, key.coord, "record %d", n)
			require.Equal(t, entries[n].body, key.body, "record %d", n)
			n++
		}
		r.drain()
		require.NoError(t, e.Err())
		expect.EQ(t, n, len(entries))
	}
}

func TestSpillShardDecreasingKey(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup)
	path := filepath.Join(tmpdir, "shard")
	out, err := os.Create(path)
	require.NoError(t, err)
	defer out.Close() // nolint: errcheck

	e := errors.Once{}
	w := newSpillShardWriter(out, path, 0, true, newSpillBlockPool(), &e)
	w.add(sortEntry{makeCoord(1, 10), []byte("a")})
	w.add(sortEntry{makeCoord(1, 9), []byte("b")})
	w.finish()
	require.Error(t, e.Err())
	expect.True(t, errors.Is(errors.Integrity, e.Err()), "%v", e.Err())
}

func TestSpillShardMissing(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup)
	path := filepath.Join(tmpdir, "nonexistent")
	e := errors.Once{}
	r := newSpillShardReader(path, newSpillBlockPool(), &e)
	expect.False(t, r.scan())
	r.drain()
	_, ok := e.Err().(*SpillIOError)
	expect.True(t, ok, "%v", e.Err())
}
