package seqdict

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/vcfsort/encoding/vcf"
	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"
)

// Load reads a sequence dictionary from path. The file kind is chosen by
// extension, after stripping an optional ".gz":
//
//   .dict, .sam          SAM header; each @SQ line is a contig
//   .fai                 samtools faidx index
//   .fa, .fasta, .fna    FASTA; the faidx index is computed on the fly
//   .vcf                 the ##contig lines of a VCF header
func Load(ctx context.Context, path string) (dict *Dictionary, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "seqdict: open %s", path)
	}
	defer func() {
		if cerr := f.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	var in io.Reader = f.Reader(ctx)
	name := path
	if strings.HasSuffix(name, ".gz") {
		gz, err := pgzip.NewReader(in)
		if err != nil {
			return nil, errors.Wrapf(err, "seqdict: %s", path)
		}
		defer gz.Close() // nolint: errcheck
		in = gz
		name = strings.TrimSuffix(name, ".gz")
	}
	var contigs []Contig
	switch {
	case hasAnySuffix(name, ".dict", ".sam"):
		contigs, err = readSAMHeader(in)
	case hasAnySuffix(name, ".fai"):
		contigs, err = readFAI(in)
	case hasAnySuffix(name, ".fa", ".fasta", ".fna"):
		var fai bytes.Buffer
		if err = GenerateIndex(&fai, in); err == nil {
			contigs, err = readFAI(&fai)
		}
	case hasAnySuffix(name, ".vcf"):
		var r *vcf.Reader
		if r, err = vcf.NewReader(in, vcf.ReadOpts{Name: path}); err == nil {
			for _, c := range r.Header().Contigs {
				contigs = append(contigs, Contig{Name: c.ID, Length: c.Length, Extra: c.Extra})
			}
		}
	default:
		return nil, errors.Errorf("seqdict: %s: unknown file type; expect .dict, .sam, .fai, .fa, .fasta, .fna or .vcf", path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "seqdict: load %s", path)
	}
	if len(contigs) == 0 {
		return nil, errors.Errorf("seqdict: %s: no contigs found", path)
	}
	return New(contigs)
}

func readSAMHeader(in io.Reader) ([]Contig, error) {
	r, err := sam.NewReader(in)
	if err != nil {
		return nil, err
	}
	refs := r.Header().Refs()
	contigs := make([]Contig, len(refs))
	for i, ref := range refs {
		contigs[i] = Contig{Name: ref.Name(), Length: int64(ref.Len()), Extra: samExtra(ref)}
	}
	return contigs, nil
}

// samExtra converts the AS, M5 and SP tags of an @SQ line to ##contig fields.
func samExtra(ref *sam.Reference) []vcf.Field {
	var extra []vcf.Field
	if as := ref.AssemblyID(); as != "" {
		extra = append(extra, vcf.Field{Key: "assembly", Value: as})
	}
	if md5 := ref.MD5(); len(md5) > 0 {
		extra = append(extra, vcf.Field{Key: "md5", Value: fmt.Sprintf("%x", md5)})
	}
	if sp := ref.Species(); sp != "" {
		extra = append(extra, vcf.Field{Key: "species", Value: sp, Quoted: strings.ContainsAny(sp, " ,")})
	}
	return extra
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}
