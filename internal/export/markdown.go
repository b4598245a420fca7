package export

import (
	"bufio"
	"bytes"
	"path"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM, extension.Footnote),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
)

// MarkdownToHTML renders page source to an HTML fragment. YAML front matter
// and top-level MDX import/export statements are dropped first; raw HTML
// and JSX blocks are omitted by the renderer.
func MarkdownToHTML(source string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(stripMDX(source)), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func stripMDX(source string) string {
	source = strings.TrimPrefix(source, "\ufeff")
	if strings.HasPrefix(source, "---\n") {
		if end := strings.Index(source[4:], "\n---"); end >= 0 {
			rest := source[4+end+4:]
			source = strings.TrimPrefix(rest, "\n")
		}
	}

	var out strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(source))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	inFence := false
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if !inFence && (strings.HasPrefix(line, "import ") || strings.HasPrefix(line, "export ")) {
			continue
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	return out.String()
}

// titleOf returns the first level-one heading, or the file name without
// extension.
func titleOf(pagePath, source string) string {
	scanner := bufio.NewScanner(strings.NewReader(source))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	base := path.Base(pagePath)
	return strings.TrimSuffix(base, path.Ext(base))
}
