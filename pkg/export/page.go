package export

import (
	"bytes"
	"html/template"

	"github.com/matzehuels/diagramzoom/pkg/errors"
)

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { margin: 0; padding: 24px; background: {{.Background}}; color: {{.Foreground}}; font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; }
.diagram { display: flex; justify-content: center; }
.diagram svg { max-width: 100%; height: auto; }
</style>
</head>
<body>
<div class="diagram">{{.SVG}}</div>
</body>
</html>
`))

// Page wraps svg in a standalone HTML document.
func Page(svg string, o Options) ([]byte, error) {
	data := struct {
		Title                  string
		Background, Foreground template.CSS
		SVG                    template.HTML
	}{
		Title:      NamePrefix,
		Background: "#ffffff",
		Foreground: "#24292e",
		SVG:        template.HTML(svg),
	}
	if o.Title != "" {
		data.Title = o.Title
	}
	if o.Dark {
		data.Background, data.Foreground = "#1e1e1e", "#d4d4d4"
	}
	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, data); err != nil {
		return nil, errors.Wrap(errors.ErrCodeExportFailed, err, "build html page")
	}
	return buf.Bytes(), nil
}
