package vcf

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	// DefaultFileFormat is emitted when a header lacks a ##fileformat line.
	DefaultFileFormat = "VCFv4.2"

	keyFileFormat = "fileformat"
	keyContig     = "contig"
	keyInfo       = "INFO"
	keyFormat     = "FORMAT"
)

// fixedColumns are the mandatory columns of the #CHROM line.
var fixedColumns = []string{"#CHROM", "POS", "ID", "REF", "ALT", "QUAL", "FILTER", "INFO"}

// Field is one key=value pair inside a structured meta line, e.g., the
// "Number=1" in ##INFO=<ID=DP,Number=1,Type=Integer,Description="Depth">.
type Field struct {
	Key   string
	Value string
	// Quoted is true if Value was double-quoted in the text form.
	Quoted bool
}

// MetaLine is one "##" header line.  A structured line (##KEY=<...>) has
// non-nil Fields and an empty Value; an unstructured line (##KEY=VALUE) has
// nil Fields.
type MetaLine struct {
	Key    string
	Value  string
	Fields []Field
}

// Structured returns true if the line is of form ##KEY=<...>.
func (m *MetaLine) Structured() bool { return m.Fields != nil }

// Get returns the value of the given field.
func (m *MetaLine) Get(key string) (string, bool) {
	for _, f := range m.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Set overwrites an existing field, or appends a new one.
func (m *MetaLine) Set(key, value string) {
	for i := range m.Fields {
		if m.Fields[i].Key == key {
			m.Fields[i].Value = value
			return
		}
	}
	m.Fields = append(m.Fields, Field{Key: key, Value: value})
}

// ID returns the value of the ID field, or "" if the line has none.
func (m *MetaLine) ID() string {
	id, _ := m.Get("ID")
	return id
}

// String returns the line in VCF text form, without the trailing newline.
func (m *MetaLine) String() string {
	if !m.Structured() {
		return "##" + m.Key + "=" + m.Value
	}
	return "##" + m.Key + "=" + formatFields(m.Fields)
}

func (m *MetaLine) clone() *MetaLine {
	c := *m
	if m.Fields != nil {
		c.Fields = append([]Field{}, m.Fields...)
	}
	return &c
}

// Contig is one ##contig line.
type Contig struct {
	ID string
	// Length is the sequence length, or 0 if unknown.
	Length int64
	// Extra lists fields other than ID and length, e.g., assembly or md5.
	Extra []Field
}

// String returns the line in VCF text form, without the trailing newline.
func (c Contig) String() string {
	fields := []Field{{Key: "ID", Value: c.ID}}
	if c.Length > 0 {
		fields = append(fields, Field{Key: "length", Value: strconv.FormatInt(c.Length, 10)})
	}
	fields = append(fields, c.Extra...)
	return "##" + keyContig + "=" + formatFields(fields)
}

// Header is a parsed VCF header.
type Header struct {
	// Meta lists all the "##" lines except ##contig, in file order.
	Meta []*MetaLine
	// Contigs lists the ##contig lines in file order. It defines the
	// sequence dictionary of the file; it may be empty.
	Contigs []Contig
	// Samples lists the sample columns of the #CHROM line, in order.
	Samples []string
	// HasFormat is true if the #CHROM line has a FORMAT column. It may be
	// set with no samples, e.g., in a sites-only file whose records keep
	// a FORMAT column. MarshalText writes FORMAT if HasFormat is set or
	// Samples is nonempty.
	HasFormat bool
}

// FileFormat returns the value of the ##fileformat line.
func (h *Header) FileFormat() string {
	for _, m := range h.Meta {
		if m.Key == keyFileFormat {
			return m.Value
		}
	}
	return ""
}

// Find returns the structured meta line with the given key and ID, or nil.
func (h *Header) Find(key, id string) *MetaLine {
	for _, m := range h.Meta {
		if m.Key == key && m.Structured() && m.ID() == id {
			return m
		}
	}
	return nil
}

// Clone returns a deep copy of the header.
func (h *Header) Clone() *Header {
	c := &Header{
		Meta:      make([]*MetaLine, len(h.Meta)),
		Contigs:   make([]Contig, len(h.Contigs)),
		Samples:   append([]string{}, h.Samples...),
		HasFormat: h.HasFormat,
	}
	for i, m := range h.Meta {
		c.Meta[i] = m.clone()
	}
	for i, ctg := range h.Contigs {
		c.Contigs[i] = ctg
		c.Contigs[i].Extra = append([]Field(nil), ctg.Extra...)
	}
	return c
}

// MarshalText returns the header in VCF text form, including the #CHROM
// line. The ##fileformat line always comes first.
func (h *Header) MarshalText() ([]byte, error) {
	var buf bytes.Buffer
	format := h.FileFormat()
	if format == "" {
		format = DefaultFileFormat
	}
	buf.WriteString("##" + keyFileFormat + "=" + format + "\n")
	for _, m := range h.Meta {
		if m.Key == keyFileFormat {
			continue
		}
		if m.Key == "" {
			return nil, errors.Errorf("vcf: meta line with empty key: %+v", m)
		}
		buf.WriteString(m.String())
		buf.WriteByte('\n')
	}
	for _, c := range h.Contigs {
		buf.WriteString(c.String())
		buf.WriteByte('\n')
	}
	buf.WriteString(strings.Join(fixedColumns, "\t"))
	if h.HasFormat || len(h.Samples) > 0 {
		buf.WriteString("\tFORMAT")
		for _, s := range h.Samples {
			buf.WriteByte('\t')
			buf.WriteString(s)
		}
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// ParseHeader reads the header lines from r, up to and including the #CHROM
// line. On return, r is positioned at the first record.
func ParseHeader(r *bufio.Reader) (*Header, error) {
	h, _, err := parseHeader(r)
	return h, err
}

// parseHeader is ParseHeader that also returns the number of lines consumed.
func parseHeader(r *bufio.Reader) (*Header, int, error) {
	h := &Header{}
	for lineno := 1; ; lineno++ {
		line, err := r.ReadString('\n')
		if err != nil && !(err == io.EOF && len(line) > 0) {
			if err == io.EOF {
				return nil, lineno, errors.Errorf("vcf: header ended at line %d without a #CHROM line", lineno)
			}
			return nil, lineno, errors.Wrapf(err, "vcf: read header line %d", lineno)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "##"):
			m, err := parseMetaLine(line)
			if err != nil {
				return nil, lineno, errors.Wrapf(err, "vcf: header line %d", lineno)
			}
			if m.Key != keyContig {
				h.Meta = append(h.Meta, m)
				continue
			}
			c, err := contigFromMeta(m)
			if err != nil {
				return nil, lineno, errors.Wrapf(err, "vcf: header line %d", lineno)
			}
			h.Contigs = append(h.Contigs, c)
		case strings.HasPrefix(line, "#CHROM"):
			cols := strings.Split(line, "\t")
			if len(cols) < len(fixedColumns) {
				return nil, lineno, errors.Errorf("vcf: line %d: #CHROM line has %d columns, want >= %d", lineno, len(cols), len(fixedColumns))
			}
			for i, want := range fixedColumns {
				if cols[i] != want {
					return nil, lineno, errors.Errorf("vcf: line %d: column %d is %q, want %q", lineno, i, cols[i], want)
				}
			}
			if len(cols) > len(fixedColumns) {
				if cols[len(fixedColumns)] != "FORMAT" {
					return nil, lineno, errors.Errorf("vcf: line %d: column %d is %q, want FORMAT", lineno, len(fixedColumns), cols[len(fixedColumns)])
				}
				h.HasFormat = true
				h.Samples = append([]string{}, cols[len(fixedColumns)+1:]...)
			}
			return h, lineno, nil
		case line == "":
			continue
		default:
			return nil, lineno, errors.Errorf("vcf: line %d: expect a header line, found %q", lineno, line)
		}
	}
}

// contigFromMeta converts a parsed ##contig line.
func contigFromMeta(m *MetaLine) (Contig, error) {
	if !m.Structured() {
		return Contig{}, errors.Errorf("malformed contig line %q", m.String())
	}
	c := Contig{}
	for _, f := range m.Fields {
		switch f.Key {
		case "ID":
			c.ID = f.Value
		case "length":
			n, err := strconv.ParseInt(f.Value, 10, 64)
			if err != nil || n < 0 {
				return Contig{}, errors.Errorf("contig line %q: invalid length", m.String())
			}
			c.Length = n
		default:
			c.Extra = append(c.Extra, f)
		}
	}
	if c.ID == "" {
		return Contig{}, errors.Errorf("contig line %q: missing ID", m.String())
	}
	return c, nil
}

// parseMetaLine parses "##KEY=VALUE" or "##KEY=<k0=v0,k1="v1",...>".
func parseMetaLine(line string) (*MetaLine, error) {
	body := line[2:]
	eq := strings.IndexByte(body, '=')
	if eq <= 0 {
		return nil, errors.Errorf("malformed meta line %q", line)
	}
	m := &MetaLine{Key: body[:eq]}
	value := body[eq+1:]
	if !(strings.HasPrefix(value, "<") && strings.HasSuffix(value, ">")) {
		m.Value = value
		return m, nil
	}
	fields, err := parseFields(value[1 : len(value)-1])
	if err != nil {
		return nil, errors.Wrapf(err, "meta line %q", line)
	}
	m.Fields = fields
	return m, nil
}

// parseFields splits the inside of <...> at commas that are not inside
// double quotes.
func parseFields(s string) ([]Field, error) {
	fields := []Field{}
	for len(s) > 0 {
		eq := strings.IndexByte(s, '=')
		if eq <= 0 {
			return nil, errors.Errorf("malformed field %q", s)
		}
		f := Field{Key: s[:eq]}
		s = s[eq+1:]
		if strings.HasPrefix(s, `"`) {
			var val strings.Builder
			i := 1
			for ; i < len(s); i++ {
				// Only \" and \\ are escapes. Other backslashes, e.g., in
				// a Windows path, are literal.
				if s[i] == '\\' && i+1 < len(s) && (s[i+1] == '"' || s[i+1] == '\\') {
					i++
					val.WriteByte(s[i])
					continue
				}
				if s[i] == '"' {
					break
				}
				val.WriteByte(s[i])
			}
			if i >= len(s) {
				return nil, errors.Errorf("unterminated quote in %q", s)
			}
			f.Value, f.Quoted = val.String(), true
			s = s[i+1:]
		} else {
			end := strings.IndexByte(s, ',')
			if end < 0 {
				end = len(s)
			}
			f.Value = s[:end]
			s = s[end:]
		}
		fields = append(fields, f)
		if len(s) > 0 {
			if s[0] != ',' {
				return nil, errors.Errorf("expect ',' at %q", s)
			}
			s = s[1:]
		}
	}
	return fields, nil
}

// writeQuoted writes the body of a quoted field value. A backslash is
// escaped only where parseFields would otherwise read it as an escape.
func writeQuoted(buf *strings.Builder, v string) {
	for i := 0; i < len(v); i++ {
		switch c := v[i]; {
		case c == '"':
			buf.WriteString(`\"`)
		case c == '\\' && (i+1 == len(v) || v[i+1] == '"' || v[i+1] == '\\'):
			buf.WriteString(`\\`)
		default:
			buf.WriteByte(c)
		}
	}
}

func formatFields(fields []Field) string {
	var buf strings.Builder
	buf.WriteByte('<')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(f.Key)
		buf.WriteByte('=')
		if f.Quoted {
			buf.WriteByte('"')
			writeQuoted(&buf, f.Value)
			buf.WriteByte('"')
		} else {
			buf.WriteString(f.Value)
		}
	}
	buf.WriteByte('>')
	return buf.String()
}
