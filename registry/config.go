package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/pixelgrid/forge-orchestrator/forge"
)

// inventoryFile is the on-disk shape of the node-inventory YAML: a bare
// list under a "nodes" key, one entry per forge.NodeConfig.
type inventoryFile struct {
	Nodes []forge.NodeConfig `yaml:"nodes"`
}

// LoadFile parses a node-inventory YAML file into NodeConfigs. It does not
// validate field-level invariants (Registry.Load does that) so a caller
// can surface the richer forge.ErrConfigError messages in one place.
func LoadFile(path string) ([]forge.NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading node inventory %q: %w", path, err)
	}

	var f inventoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing node inventory %q: %w: %v", path, forge.ErrConfigError, err)
	}
	return f.Nodes, nil
}

// FileWatcher satisfies registry.Watcher by re-parsing a YAML file on
// disk whenever fsnotify reports it changed, and also once eagerly on
// Watch so the first load happens the same way as a later reload.
type FileWatcher struct {
	Path string
	Log  *logrus.Logger
}

// Watch blocks until ctx is cancelled, invoking onChange with the parsed
// inventory on startup and again after every write/create/rename event on
// the watched file's directory that matches its basename. fsnotify
// watches the containing directory rather than the file itself so the
// watch survives editors that replace the file via rename-over.
func (w *FileWatcher) Watch(ctx context.Context, onChange func([]forge.NodeConfig)) error {
	log := w.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	if cfgs, err := LoadFile(w.Path); err != nil {
		log.WithError(err).WithField("path", w.Path).Error("initial node inventory load failed")
	} else {
		onChange(cfgs)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.Path)
	base := filepath.Base(w.Path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %q: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfgs, err := LoadFile(w.Path)
			if err != nil {
				log.WithError(err).WithField("path", w.Path).Error("node inventory reload failed, keeping previous inventory")
				continue
			}
			log.WithField("path", w.Path).Info("node inventory reloaded")
			onChange(cfgs)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("fsnotify watch error")
		}
	}
}
