package main

// bio-vcf-sort sorts the records of one or more VCF files into one VCF file,
// ordered by contig, in the order of the sequence dictionary, then by
// position.
//
// Usage: bio-vcf-sort -output out.vcf.gz in0.vcf in1.vcf.gz ...

import (
	"flag"
	"os"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/vcfsort/cmd/bio-vcf-sort/sorter"
	"github.com/grailbio/vcfsort/encoding/vcf"
)

var (
	outputFlag             = flag.String("output", "", "Output VCF path. If it ends with .gz, the output is BGZF compressed.")
	sequenceDictionaryFlag = flag.String("sequence-dictionary", "", "Optional sequence dictionary (.dict, .fai, .fa/.fasta, or .vcf) that defines the contig order. It overrides the ##contig lines of the inputs.")
	maxRecordsInRAMFlag    = flag.Int("max-records-in-ram", sorter.DefaultMaxRecordsInRAM, "Max number of records to buffer before spilling them to a temp file.")
	tmpDirFlag             = flag.String("tmp-dir", "", "Directory for temp files. Defaults to $TMPDIR.")
	stringencyFlag         = flag.String("validation-stringency", vcf.Strict.String(), "Validation of input records: STRICT, LENIENT or SILENT.")
	createIndexFlag        = flag.Bool("create-index", true, "Write an <output>.gvi index. Requires a .gz output.")
	indexByteIntervalFlag  = flag.Int("index-byte-interval", vcf.DefaultIndexByteInterval, "Approx. compressed bytes between index entries.")
	parallelismFlag        = flag.Int("parallelism", sorter.DefaultParallelism, "Number of concurrent background spills.")
	decodeParallelismFlag  = flag.Int("decode-parallelism", 1, "Max number of inputs decoded concurrently.")
	noCompressTmpFilesFlag = flag.Bool("no-compress-tmp-files", false, "Do not snappy-compress temp files.")
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	flag.Usage = func() {
		os.Stderr.WriteString(`Usage: bio-vcf-sort -output <out.vcf[.gz]> [flags] <input.vcf[.gz]...>

Sorts the records of the input VCF files into one output VCF file. The contig
order comes from -sequence-dictionary if given, else from the ##contig lines of
the inputs, which must agree. The inputs must have the same samples, in the
same order. Their headers are merged.
`)
		flag.PrintDefaults()
	}
	shutdown := grail.Init()
	defer shutdown()

	args := flag.Args()
	if *outputFlag == "" || len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}
	stringency, err := vcf.ParseStringency(*stringencyFlag)
	if err != nil {
		log.Fatalf("-validation-stringency: %v", err)
	}
	opts := sorter.Opts{
		SortOptions: sorter.SortOptions{
			MaxRecordsInRAM:    *maxRecordsInRAMFlag,
			TmpDir:             *tmpDirFlag,
			Parallelism:        *parallelismFlag,
			NoCompressTmpFiles: *noCompressTmpFilesFlag,
		},
		Stringency:         stringency,
		CreateIndex:        *createIndexFlag,
		IndexByteInterval:  *indexByteIntervalFlag,
		SequenceDictionary: *sequenceDictionaryFlag,
		DecodeParallelism:  *decodeParallelismFlag,
	}
	if err := sorter.SortVCFs(vcontext.Background(), args, *outputFlag, opts); err != nil {
		log.Fatalf("sort %v to %v: %v", args, *outputFlag, err)
	}
}
