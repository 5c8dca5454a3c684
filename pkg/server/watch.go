package server

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watchFile reloads the document after the file changes. The directory is
// watched rather than the file because many editors save by renaming a
// temporary file over the original.
func (s *Server) watchFile() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != s.path {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				s.deb.Trigger(reloadKey, ReloadDelay, func() {
					if err := s.Reload(); err != nil {
						s.logger.Warn("reload failed", "err", err)
					}
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("file watch", "err", err)
			}
		}
	}()

	return func() {
		w.Close()
		<-done
	}, nil
}
