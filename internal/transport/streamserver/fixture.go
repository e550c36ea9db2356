package streamserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Fixture is the desired state of every topic, keyed by topic then entity id.
//
//	groups:
//	  g1: {projectId: p1, active: true}
//	nodes:
//	  n1: {name: worker-1}
type Fixture map[string]map[string]json.RawMessage

// ReadFixture decodes a YAML fixture. Entity values may be any YAML value
// that has a JSON form.
func ReadFixture(r io.Reader) (Fixture, error) {
	var raw map[string]map[string]any
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}

	fx := make(Fixture, len(raw))
	for topic, entities := range raw {
		out := make(map[string]json.RawMessage, len(entities))
		for id, value := range entities {
			if value == nil {
				return nil, fmt.Errorf("fixture %s/%s: value is required", topic, id)
			}
			data, err := json.Marshal(value)
			if err != nil {
				return nil, fmt.Errorf("fixture %s/%s: %w", topic, id, err)
			}
			out[id] = data
		}
		fx[topic] = out
	}
	return fx, nil
}

// ApplyFixture reconciles every topic toward fx. Topics the server knows but
// fx omits are emptied.
func (s *Server) ApplyFixture(fx Fixture) (int, error) {
	want := make(Fixture, len(fx))
	for _, topic := range s.Topics() {
		want[topic] = nil
	}
	for topic, entities := range fx {
		want[topic] = entities
	}

	total := 0
	for _, topic := range sortedKeys(want) {
		n, err := s.Reconcile(topic, want[topic])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// LoadFixture reads the fixture at path and applies it.
func (s *Server) LoadFixture(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()

	fx, err := ReadFixture(f)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return s.ApplyFixture(fx)
}

// WatchFixture reapplies the fixture at path whenever it changes, until ctx
// is done. The parent directory is watched so editors that replace the file
// are picked up too.
func (s *Server) WatchFixture(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fixture watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				n, err := s.LoadFixture(path)
				if err != nil {
					s.echo.Logger.Warnf("reload fixture: %v", err)
					continue
				}
				s.echo.Logger.Infof("fixture %s reloaded: %d changes", path, n)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.echo.Logger.Warnf("fixture watcher: %v", err)
			}
		}
	}()
	return nil
}
