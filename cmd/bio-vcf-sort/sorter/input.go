package sorter

import (
	"bufio"
	"context"
	"io"

	"github.com/grailbio/base/file"
	"github.com/grailbio/vcfsort/encoding/vcf"
	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"
)

// inputSource is one VCF input file, open for reading.
type inputSource struct {
	path   string
	f      file.File
	gz     *pgzip.Reader
	reader *vcf.Reader
}

// openInput opens path and reads its VCF header. Gzip and BGZF input is
// detected by its magic bytes, not by the file name.
func openInput(ctx context.Context, path string, stringency vcf.Stringency) (*inputSource, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	in := &inputSource{path: path, f: f}
	br := bufio.NewReader(f.Reader(ctx))
	var r io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		if in.gz, err = pgzip.NewReader(br); err != nil {
			in.close(ctx) // nolint: errcheck
			return nil, errors.Wrapf(err, "open %s", path)
		}
		r = in.gz
	}
	if in.reader, err = vcf.NewReader(r, vcf.ReadOpts{Stringency: stringency, Name: path}); err != nil {
		in.close(ctx) // nolint: errcheck
		return nil, err
	}
	return in, nil
}

func (in *inputSource) close(ctx context.Context) error {
	if in.gz != nil {
		in.gz.Close() // nolint: errcheck
		in.gz = nil
	}
	if in.f == nil {
		return nil
	}
	err := in.f.Close(ctx)
	in.f = nil
	return err
}
