// Package fault injects errors into fake collaborators at named points.
package fault

import (
	"fmt"
	"strings"
	"sync"

	"pipesync/internal/check"
)

// Hook inspects the arguments of a call and may fail it.
type Hook func(args ...any) error

type point struct {
	queued []error
	always error
	hook   Hook
	hits   int
}

// Injector holds the faults of every point. The zero value is not usable;
// call NewInjector.
type Injector struct {
	mu     sync.Mutex
	points map[string]*point
}

func NewInjector() *Injector {
	return &Injector{points: make(map[string]*point)}
}

// FailOnce queues err for the next evaluation of name.
func (i *Injector) FailOnce(name string, err error) {
	i.FailTimes(name, 1, err)
}

// FailTimes queues err for the next n evaluations of name.
func (i *Injector) FailTimes(name string, n int, err error) {
	check.Assert(err != nil, "fault.Injector.FailTimes: err must not be nil")
	if err == nil || n <= 0 {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	p := i.ensure(name)
	for range n {
		p.queued = append(p.queued, err)
	}
}

// FailAlways fails every evaluation of name until Clear or Reset.
func (i *Injector) FailAlways(name string, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ensure(name).always = err
}

// SetHook installs an argument-aware hook for name.
func (i *Injector) SetHook(name string, hook Hook) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ensure(name).hook = hook
}

func (i *Injector) Clear(name string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.points, name)
}

func (i *Injector) Reset() {
	i.mu.Lock()
	i.points = make(map[string]*point)
	i.mu.Unlock()
}

// Hits reports how many times name failed.
func (i *Injector) Hits(name string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	if p, ok := i.points[name]; ok {
		return p.hits
	}
	return 0
}

// Eval reports the fault for this evaluation of name, if any.
// Precedence: hook, then queued, then always.
func (i *Injector) Eval(name string, args ...any) error {
	check.Assert(strings.TrimSpace(name) != "", "fault.Injector.Eval: name must not be empty")
	if i == nil {
		return nil
	}

	i.mu.Lock()
	p := i.points[name]
	if p == nil {
		i.mu.Unlock()
		return nil
	}
	hook := p.hook
	var queued error
	if len(p.queued) > 0 {
		queued = p.queued[0]
		p.queued = p.queued[1:]
	}
	always := p.always
	i.mu.Unlock()

	var hookErr error
	if hook != nil {
		hookErr = hook(args...)
	}

	var err error
	switch {
	case hookErr != nil:
		err = fmt.Errorf("fault %s (hook): %w", name, hookErr)
	case queued != nil:
		err = fmt.Errorf("fault %s (queued): %w", name, queued)
	case always != nil:
		err = fmt.Errorf("fault %s (always): %w", name, always)
	}
	if err != nil {
		i.mu.Lock()
		if p, ok := i.points[name]; ok {
			p.hits++
		}
		i.mu.Unlock()
	}
	return err
}

func (i *Injector) ensure(name string) *point {
	p, ok := i.points[name]
	if !ok {
		p = &point{}
		i.points[name] = p
	}
	return p
}
