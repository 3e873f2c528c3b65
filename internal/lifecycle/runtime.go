package lifecycle

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type entry struct {
	name      string
	component Component
}

// Runtime starts components in registration order and stops them in reverse.
type Runtime struct {
	entries []entry
	started []entry
}

func NewRuntime() *Runtime {
	return &Runtime{}
}

func (r *Runtime) Register(name string, component Component) {
	if component == nil {
		return
	}
	r.entries = append(r.entries, entry{name: name, component: component})
}

func (r *Runtime) Start(ctx context.Context) error {
	r.started = make([]entry, 0, len(r.entries))
	for _, e := range r.entries {
		if err := e.component.Start(ctx); err != nil {
			_ = stopEntries(ctx, r.started)
			r.started = nil
			return fmt.Errorf("start %s: %w", e.name, err)
		}
		log.WithField("component", e.name).Debug("started")
		r.started = append(r.started, e)
	}
	return nil
}

// Stop stops every started component and joins their errors.
func (r *Runtime) Stop(ctx context.Context) error {
	err := stopEntries(ctx, r.started)
	r.started = nil
	return err
}

func stopEntries(ctx context.Context, entries []entry) error {
	var stopErr error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if err := e.component.Stop(ctx); err != nil {
			stopErr = errors.Join(stopErr, fmt.Errorf("stop %s: %w", e.name, err))
			continue
		}
		log.WithField("component", e.name).Debug("stopped")
	}
	return stopErr
}
