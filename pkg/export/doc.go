// Package export turns rendered diagrams into files.
//
// SVG and HTML exports need nothing beyond the rendered markup. PNG and
// JPG are rasterized with rsvg-convert when it is installed and through a
// headless Chrome screenshot otherwise; JPG output is flattened onto white.
// PDF needs rsvg-convert and is validated with pdfcpu before it is
// returned.
//
// Default file names follow the pattern mermaid-diagram-<unix millis>.<ext>.
package export
