package export

import (
	"context"

	"github.com/matzehuels/diagramzoom/pkg/preview"
)

// Sink returns a preview export action that writes files into dir. dark
// reports the document theme at export time.
func (e *Exporter) Sink(dir string, dark func() bool, done func(path string)) preview.ExportFunc {
	return func(ctx context.Context, svg string, cfg preview.Config, format string) error {
		f := PNG
		if format != "" {
			var err error
			if f, err = ParseFormat(format); err != nil {
				return err
			}
		}
		o := Options{Scale: cfg.ExportScale}
		if dark != nil {
			o.Dark = dark()
		}
		path, err := e.WriteFile(ctx, dir, "", svg, f, o)
		if err != nil {
			return err
		}
		e.logger.Info("diagram exported", "path", path)
		if done != nil {
			done(path)
		}
		return nil
	}
}
