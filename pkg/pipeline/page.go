package pipeline

import (
	"html/template"
	"strings"

	"github.com/matzehuels/diagramzoom/pkg/dom"
	"github.com/matzehuels/diagramzoom/pkg/preview"
)

var shellTmpl = template.Must(template.New("shell").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { max-width: 980px; margin: 0 auto; padding: 32px; font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; line-height: 1.5; }
{{.CSS}}
</style>
</head>
<body class="{{.BodyClass}}">
{{.Body}}
{{if .Script}}<script>{{.Script}}</script>{{end}}
</body>
</html>
`))

// Shell wraps body markup in the preview page. script, when set, is
// inlined at the end of the body.
func Shell(title, body string, dark bool, script string) string {
	if title == "" {
		title = "Preview"
	}
	class := dom.ClassLight
	if dark {
		class = dom.ClassDark
	}
	var b strings.Builder
	err := shellTmpl.Execute(&b, struct {
		Title, BodyClass string
		CSS              template.CSS
		Body             template.HTML
		Script           template.JS
	}{title, class, template.CSS(preview.Stylesheet), template.HTML(body), template.JS(script)})
	if err != nil {
		panic(err)
	}
	return b.String()
}
