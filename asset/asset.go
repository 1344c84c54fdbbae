package asset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

var ErrEmptyName = errors.New("empty model name")

// Model describes the 3-D model attached to the anchor once the reference
// image has been detected.
type Model struct {
	Name  string  `json:"name"`
	File  string  `json:"file"`
	Scale float64 `json:"scale"`
}

type Loader interface {
	Load(ctx context.Context, name string) (Model, error)
}

// DirLoader reads `<Dir>/<name>.json` manifests.
type DirLoader struct {
	Dir string
}

func (l DirLoader) Load(ctx context.Context, name string) (Model, error) {
	if name == "" {
		return Model{}, ErrEmptyName
	}
	if err := ctx.Err(); err != nil {
		return Model{}, err
	}

	file := filepath.Join(l.Dir, name+".json")
	b, err := os.ReadFile(file)
	if err != nil {
		log.Errorf("Error reading model manifest '%s'", file)
		return Model{}, err
	}

	m := Model{Name: name, Scale: 1}
	if err := json.Unmarshal(b, &m); err != nil {
		return Model{}, fmt.Errorf("model manifest '%s': %w", file, err)
	}
	if m.Scale <= 0 {
		m.Scale = 1
	}

	return m, ctx.Err()
}

// Task is a one-shot load. It runs once, reports once and is never retried.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Start runs loader.Load(name) in the background. onDone is called exactly
// once, with ctx's error if the task is cancelled first.
func Start(ctx context.Context, loader Loader, name string, onDone func(Model, error)) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(t.done)
		defer cancel()

		m, err := loader.Load(ctx, name)
		if ctxErr := ctx.Err(); ctxErr != nil && err == nil {
			err = ctxErr
		}
		onDone(m, err)
	}()

	return t
}

func (t *Task) Cancel() {
	t.cancel()
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}
