package export

import (
	"bytes"
	"html/template"
	"time"
)

var documentTemplate = template.Must(template.New("document").Parse(pageTemplate))

// TemplateData holds data for page template rendering.
type TemplateData struct {
	Title       string
	Path        string
	Version     string
	ContentHTML template.HTML
	UpdatedAt   time.Time
}

func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: "Open Sans", Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    pre { background: #f5f5f5; padding: 0.75rem; overflow-x: auto; }
    code { font-family: Menlo, Consolas, monospace; font-size: 0.9em; }
    table { border-collapse: collapse; }
    th, td { border: 1px solid #ccc; padding: 0.25rem 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
  </style>
</head>
<body>
  <div class="meta">{{.Path}}{{if ne .Version "latest"}} @ {{.Version}}{{end}} | exported {{.UpdatedAt.Format "Jan 2, 2006"}}</div>
  <article>{{.ContentHTML}}</article>
</body>
</html>`
