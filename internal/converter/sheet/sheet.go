// Package sheet renders delimited spreadsheets (CSV, TSV) as Markdown, HTML,
// JSON, CSV or aligned text tables.
package sheet

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/mattjoyce/convoy/internal/converter"
	"github.com/mattjoyce/convoy/internal/job"
	"github.com/mattjoyce/convoy/internal/output"
)

const (
	Name  = "sheet"
	Score = 100

	// OptionSeparator overrides the input field separator (one character, or "tab").
	OptionSeparator = "separator"
	// OptionHeader set to "false" treats the first row as data.
	OptionHeader = "header"

	CodeUnsupportedTarget = "UNSUPPORTED_TARGET"
	CodeInvalidOption     = "INVALID_OPTION"
	CodeParseFailed       = "PARSE_FAILED"
	CodeReadFailed        = "READ_FAILED"
	CodeWriteFailed       = "WRITE_FAILED"
)

var extensions = []string{".csv", ".tsv"}

// checkEvery is how many rows are parsed between context checks.
const checkEvery = 1024

// Converter renders delimited files with go-pretty tables.
type Converter struct {
	separator rune
}

// Option configures the converter.
type Option func(*Converter)

// WithSeparator sets the default CSV separator. TSV inputs always default to tab.
func WithSeparator(sep rune) Option {
	return func(c *Converter) {
		if sep != 0 {
			c.separator = sep
		}
	}
}

// New returns a sheet converter.
func New(opts ...Option) *Converter {
	c := &Converter{separator: ','}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ParseSeparator accepts a single character or the words "tab", "comma",
// "semicolon" and "pipe".
func ParseSeparator(s string) (rune, error) {
	switch strings.ToLower(s) {
	case "tab", `\t`:
		return '\t', nil
	case "comma":
		return ',', nil
	case "semicolon":
		return ';', nil
	case "pipe":
		return '|', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("separator %q must be a single character", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return 0, fmt.Errorf("separator %q is not allowed", s)
	}
	return r, nil
}

func (c *Converter) Name() string { return Name }

func (c *Converter) SupportedExtensions() []string {
	return append([]string(nil), extensions...)
}

func (c *Converter) Probe(path string) int {
	return converter.ExtensionScore(path, extensions, Score)
}

// Convert parses the input and writes the rendered table to every output path.
func (c *Converter) Convert(ctx context.Context, j *job.Job) (*job.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sep := c.separator
	if converter.Extension(j.InputPath) == ".tsv" {
		sep = '\t'
	}
	if v, ok := j.StringOption(OptionSeparator); ok && v != "" {
		r, err := ParseSeparator(v)
		if err != nil {
			return job.Failed(CodeInvalidOption, err.Error()), nil
		}
		sep = r
	}
	hasHeader := true
	if v, ok := j.StringOption(OptionHeader); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return job.Failed(CodeInvalidOption, fmt.Sprintf("header option %q: %v", v, err)), nil
		}
		hasHeader = b
	}

	target := output.NormalizeFormat(j.TargetFormat)
	if !supportedTarget(target) {
		return job.Failed(CodeUnsupportedTarget,
			fmt.Sprintf("%s cannot produce %q (supported: md, html, json, csv, txt)", Name, target)), nil
	}

	f, err := os.Open(j.InputPath)
	if err != nil {
		return job.Failed(CodeReadFailed, err.Error()), nil
	}
	defer f.Close()

	header, rows, err := parse(ctx, f, sep, hasHeader)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return job.Failed(CodeParseFailed, err.Error()), nil
	}

	rendered, err := render(target, header, rows)
	if err != nil {
		return job.Failed(CodeWriteFailed, err.Error()), nil
	}

	outputs := converter.OutputPaths(j)
	for _, p := range outputs {
		if err := converter.WriteFileAtomic(p, rendered); err != nil {
			return job.Failed(CodeWriteFailed, err.Error()), nil
		}
	}
	return job.Succeeded(outputs), nil
}

func supportedTarget(target string) bool {
	switch target {
	case "md", "markdown", "html", "htm", "json", "csv", "txt", "text":
		return true
	}
	return false
}

// parse reads all records, padding short rows to the widest row.
func parse(ctx context.Context, r io.Reader, sep rune, hasHeader bool) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	reader.Comma = sep
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var records [][]string
	width := 0
	for n := 0; ; n++ {
		if n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		width = max(width, len(rec))
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, nil, errors.New("input has no rows")
	}

	for i, rec := range records {
		for len(rec) < width {
			rec = append(rec, "")
		}
		records[i] = rec
	}

	if hasHeader {
		return records[0], records[1:], nil
	}
	header := make([]string, width)
	for i := range header {
		header[i] = "col" + strconv.Itoa(i+1)
	}
	return header, records, nil
}

func render(target string, header []string, rows [][]string) ([]byte, error) {
	switch target {
	case "json":
		return renderJSON(header, rows)
	case "csv":
		return renderCSV(header, rows)
	}

	tw := table.NewWriter()
	tw.AppendHeader(toRow(header))
	for _, r := range rows {
		tw.AppendRow(toRow(r))
	}

	switch target {
	case "md", "markdown":
		return []byte(tw.RenderMarkdown() + "\n"), nil
	case "html", "htm":
		return []byte(tw.RenderHTML() + "\n"), nil
	default:
		tw.SetStyle(table.StyleLight)
		return []byte(tw.Render() + "\n"), nil
	}
}

func toRow(cells []string) table.Row {
	row := make(table.Row, len(cells))
	for i, c := range cells {
		row[i] = c
	}
	return row
}

func renderJSON(header []string, rows [][]string) ([]byte, error) {
	objects := make([]map[string]string, 0, len(rows))
	for _, r := range rows {
		obj := make(map[string]string, len(header))
		for i, h := range header {
			key := h
			if key == "" {
				key = "col" + strconv.Itoa(i+1)
			}
			obj[key] = r[i]
		}
		objects = append(objects, obj)
	}
	data, err := json.MarshalIndent(objects, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return append(data, '\n'), nil
}

func renderCSV(header []string, rows [][]string) ([]byte, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}
