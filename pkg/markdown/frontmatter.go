package markdown

import (
	"bytes"

	"gopkg.in/yaml.v3"

	"github.com/matzehuels/diagramzoom/pkg/errors"
	"github.com/matzehuels/diagramzoom/pkg/preview"
)

// FrontMatter is the YAML header of a markdown file.
//
//	---
//	title: Architecture
//	diagramzoom:
//	  show_controls: always
//	  max_zoom: 8
//	---
type FrontMatter struct {
	Title       string         `yaml:"title"`
	DiagramZoom preview.Config `yaml:"diagramzoom"`
}

var fence = []byte("---")

// SplitFrontMatter separates a leading YAML block from the markdown body.
// Diagram settings in the block are overlaid on base.
func SplitFrontMatter(src []byte, base preview.Config) (FrontMatter, []byte, error) {
	fm := FrontMatter{DiagramZoom: base}
	rest, ok := bytes.CutPrefix(src, fence)
	if !ok {
		return fm, src, nil
	}
	nl := bytes.IndexByte(rest, '\n')
	if nl < 0 || len(bytes.TrimSpace(rest[:nl])) != 0 {
		return fm, src, nil
	}
	rest = rest[nl+1:]

	var header, body []byte
	for off := 0; off <= len(rest); {
		end := bytes.IndexByte(rest[off:], '\n')
		line := rest[off:]
		next := len(rest)
		if end >= 0 {
			line = rest[off : off+end]
			next = off + end + 1
		}
		if bytes.Equal(bytes.TrimRight(line, " \r"), fence) {
			header, body = rest[:off], rest[next:]
			break
		}
		if end < 0 {
			return fm, src, nil
		}
		off = next
	}
	if err := yaml.Unmarshal(header, &fm); err != nil {
		return FrontMatter{DiagramZoom: base}, src, errors.Wrap(errors.ErrCodeInvalidConfig, err, "parse front matter")
	}
	if err := fm.DiagramZoom.Validate(); err != nil {
		return FrontMatter{DiagramZoom: base}, src, err
	}
	return fm, body, nil
}
