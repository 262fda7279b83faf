// Package text converts between lightweight markup formats: Markdown, plain
// text and HTML.
package text

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/mattjoyce/convoy/internal/converter"
	"github.com/mattjoyce/convoy/internal/job"
	"github.com/mattjoyce/convoy/internal/output"
)

const (
	Name = "text"

	// Score leaves room for a dedicated plugin to outrank the built-in.
	Score = 80

	CodeUnsupportedTarget = "UNSUPPORTED_TARGET"
	CodeReadFailed        = "READ_FAILED"
	CodeWriteFailed       = "WRITE_FAILED"
	CodeRenderFailed      = "RENDER_FAILED"
)

var extensions = []string{".md", ".markdown", ".txt", ".html", ".htm"}

// Converter renders markup inputs to html, txt or md.
type Converter struct {
	title string
}

// Option configures the converter.
type Option func(*Converter)

// WithTitle sets the <title> used when wrapping HTML output. Defaults to the
// input's base name.
func WithTitle(title string) Option {
	return func(c *Converter) { c.title = title }
}

// New returns a text converter.
func New(opts ...Option) *Converter {
	c := &Converter{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Converter) Name() string { return Name }

func (c *Converter) SupportedExtensions() []string {
	return append([]string(nil), extensions...)
}

func (c *Converter) Probe(path string) int {
	return converter.ExtensionScore(path, extensions, Score)
}

// Convert reads the input and writes the rendered document to every output path.
func (c *Converter) Convert(ctx context.Context, j *job.Job) (*job.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(j.InputPath)
	if err != nil {
		return job.Failed(CodeReadFailed, err.Error()), nil
	}

	source := kindOf(j.InputPath)
	target := output.NormalizeFormat(j.TargetFormat)

	var rendered string
	switch target {
	case "html", "htm":
		rendered, err = c.toHTML(source, string(raw), j)
	case "txt", "text":
		rendered, err = toText(source, string(raw))
	case "md", "markdown":
		rendered, err = toMarkdown(source, string(raw))
	default:
		return job.Failed(CodeUnsupportedTarget,
			fmt.Sprintf("%s cannot produce %q (supported: html, txt, md)", Name, target)), nil
	}
	if err != nil {
		return job.Failed(CodeRenderFailed, err.Error()), nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outputs := converter.OutputPaths(j)
	for _, p := range outputs {
		if err := converter.WriteFileAtomic(p, []byte(rendered)); err != nil {
			return job.Failed(CodeWriteFailed, err.Error()), nil
		}
	}
	return job.Succeeded(outputs), nil
}

type kind int

const (
	kindText kind = iota
	kindMarkdown
	kindHTML
)

func kindOf(path string) kind {
	switch converter.Extension(path) {
	case ".md", ".markdown":
		return kindMarkdown
	case ".html", ".htm":
		return kindHTML
	default:
		return kindText
	}
}

func (c *Converter) toHTML(source kind, in string, j *job.Job) (string, error) {
	if source == kindHTML {
		return in, nil
	}

	body := ""
	if source == kindMarkdown {
		var err error
		if body, err = markdownToHTML(in); err != nil {
			return "", err
		}
	} else {
		body = textToHTML(in)
	}

	title := c.title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(j.InputPath), filepath.Ext(j.InputPath))
	}
	if t, ok := j.StringOption("title"); ok && t != "" {
		title = t
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(title))
	b.WriteString("</head>\n<body>\n")
	b.WriteString(body)
	b.WriteString("</body>\n</html>\n")
	return b.String(), nil
}

func toText(source kind, in string) (string, error) {
	switch source {
	case kindHTML:
		return htmlToText(in)
	case kindMarkdown:
		return markdownToText(in)
	default:
		return in, nil
	}
}

func toMarkdown(source kind, in string) (string, error) {
	if source == kindHTML {
		return htmlToText(in)
	}
	return in, nil
}

// markdown renders CommonMark plus the GitHub extensions. Raw HTML and
// dangerous link schemes are dropped since the renderer is not in unsafe mode.
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

var (
	spacePattern    = regexp.MustCompile(`\s+`)
	blankRunPattern = regexp.MustCompile(`\n{3,}`)
)

func markdownToHTML(in string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(in), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func textToHTML(in string) string {
	var b strings.Builder
	for _, block := range strings.Split(strings.ReplaceAll(in, "\r\n", "\n"), "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		lines := strings.Split(block, "\n")
		for i, l := range lines {
			lines[i] = html.EscapeString(l)
		}
		b.WriteString("<p>" + strings.Join(lines, "<br>\n") + "</p>\n")
	}
	return b.String()
}

func markdownToText(in string) (string, error) {
	rendered, err := markdownToHTML(in)
	if err != nil {
		return "", err
	}
	return htmlToText(rendered)
}

// htmlToText flattens a document to readable text: block elements become
// paragraphs, list items get a dash and links keep their target.
func htmlToText(in string) (string, error) {
	doc, err := html.Parse(strings.NewReader(in))
	if err != nil {
		return "", err
	}
	w := &textWriter{}
	w.walk(doc)

	lines := strings.Split(w.b.String(), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s := blankRunPattern.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(s) + "\n", nil
}

type textWriter struct {
	b   strings.Builder
	pre int
}

func (w *textWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		if w.pre > 0 {
			w.b.WriteString(n.Data)
		} else {
			w.b.WriteString(spacePattern.ReplaceAllString(n.Data, " "))
		}
		return
	case html.ElementNode:
	default:
		w.children(n)
		return
	}

	switch n.DataAtom {
	case atom.Head, atom.Script, atom.Style, atom.Noscript, atom.Template:
	case atom.Br:
		w.b.WriteString("\n")
	case atom.Li:
		w.b.WriteString("\n- ")
		w.children(n)
	case atom.Pre:
		w.b.WriteString("\n\n")
		w.pre++
		w.children(n)
		w.pre--
		w.b.WriteString("\n\n")
	case atom.A:
		mark := w.b.Len()
		w.children(n)
		label := strings.TrimSpace(w.b.String()[mark:])
		if href := attr(n, "href"); href != "" && href != label {
			fmt.Fprintf(&w.b, " (%s)", href)
		}
	case atom.P, atom.Div, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Ul, atom.Ol, atom.Table, atom.Tr, atom.Blockquote, atom.Hr,
		atom.Section, atom.Article, atom.Header, atom.Footer:
		w.b.WriteString("\n\n")
		w.children(n)
		w.b.WriteString("\n\n")
	case atom.Td, atom.Th:
		w.children(n)
		w.b.WriteString("\t")
	default:
		w.children(n)
	}
}

func (w *textWriter) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
