package seqdict

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/tsv"
	"github.com/pkg/errors"
)

// GenerateIndex reads a FASTA file from in and writes its faidx index to out.
// The format is defined by "samtools faidx"
// (http://www.htslib.org/doc/faidx.html): one line per sequence with the
// name, length, byte offset of the first base, bases per line and bytes per
// line.
func GenerateIndex(out io.Writer, in io.Reader) error {
	var (
		w   = tsv.NewWriter(out)
		r   = bufio.NewReader(in)
		seq faiEntry
		off int64
	)
	emit := func() error {
		if seq.name == "" {
			return nil
		}
		w.WriteString(seq.name)
		w.WriteInt64(seq.length)
		w.WriteInt64(seq.offset)
		w.WriteInt64(seq.lineBases)
		w.WriteInt64(seq.lineWidth)
		return w.EndLine()
	}
	for {
		fullLine, err := r.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return errors.Wrap(err, "seqdict: read FASTA")
		}
		off += int64(len(fullLine))
		line := bytes.TrimRight(fullLine, "\r\n")
		switch {
		case len(line) == 0:
		case line[0] == '>':
			if err := emit(); err != nil {
				return err
			}
			name := strings.Fields(string(line[1:]))
			if len(name) == 0 {
				return errors.Errorf("seqdict: FASTA sequence without a name at offset %d", off-int64(len(fullLine)))
			}
			seq = faiEntry{name: name[0], offset: off}
		case seq.name == "":
			return errors.New("seqdict: malformed FASTA file: sequence data before the first '>' line")
		default:
			if seq.lineWidth == 0 {
				seq.lineWidth = int64(len(fullLine))
				seq.lineBases = int64(len(line))
			}
			seq.length += int64(len(line))
		}
		if err == io.EOF {
			break
		}
	}
	if off == 0 {
		return errors.New("seqdict: empty FASTA file")
	}
	if err := emit(); err != nil {
		return err
	}
	return w.Flush()
}

type faiEntry struct {
	name      string
	length    int64
	offset    int64
	lineBases int64
	lineWidth int64
}

// readFAI parses the name and length columns of a faidx index.
func readFAI(r io.Reader) ([]Contig, error) {
	var contigs []Contig
	scanner := bufio.NewScanner(r)
	for lineno := 1; scanner.Scan(); lineno++ {
		line := scanner.Text()
		if line == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 2 {
			return nil, errors.Errorf("seqdict: fai line %d: expect at least 2 columns, found %q", lineno, line)
		}
		n, err := strconv.ParseInt(cols[1], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "seqdict: fai line %d: length", lineno)
		}
		contigs = append(contigs, Contig{Name: cols[0], Length: n})
	}
	return contigs, scanner.Err()
}
