package registry

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher invalidates cached instances when plugin artifacts change on
// disk. Intended for development setups serving plugins from a local
// directory; published artifacts are immutable and never need this.
type Watcher struct {
	registry *Registry
	fsw      *fsnotify.Watcher
	log      logrus.FieldLogger

	closeOnce sync.Once
	done      chan struct{}
}

// WatchDir watches dir for changes to *.wasm artifacts and invalidates
// the matching language in reg.
func WatchDir(dir string, reg *Registry, log logrus.FieldLogger) (*Watcher, error) {
	if log == nil {
		log = newDiscardLogger()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{
		registry: reg,
		fsw:      fsw,
		log:      log,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) != ".wasm" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			language := strings.TrimSuffix(filepath.Base(event.Name), ".wasm")
			w.log.WithFields(logrus.Fields{
				"language": language,
				"op":       event.Op.String(),
			}).Debug("plugin artifact changed")
			w.registry.Invalidate(language)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("plugin watcher error")
		}
	}
}

// Close stops watching. Blocks until the event loop exits.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fsw.Close()
		<-w.done
	})
	return err
}
