// Package vcf reads and writes VCF (variant call format) text files.
//
// The package intentionally models only what is needed to sort and merge VCF
// files: the header (meta-information lines, contigs and sample names) and a
// record's (CHROM, POS) sort key. The rest of a record is kept as the raw
// tab-separated line, and is written back byte-for-byte.
//
// Example:
//
//   r, err := vcf.NewReader(in, vcf.ReadOpts{Stringency: vcf.Lenient})
//   ...
//   w, err := vcf.NewWriter(out, vcf.WriteOpts{BGZF: true, Index: indexOut})
//   err = w.WriteHeader(r.Header())
//   for {
//     rec, err := r.Read()
//     if err == io.EOF {
//       break
//     }
//     ...
//     err = w.Write(rec)
//   }
//   err = w.Close()
//
// The format is described in https://samtools.github.io/hts-specs/VCFv4.2.pdf.
package vcf
