// Package session wires the platform topics into entity caches and derives
// the views the CLI shows from them.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"pipesync/internal/cache"
	"pipesync/internal/change"
	"pipesync/internal/pipeline"
	"pipesync/internal/tags"
	"pipesync/internal/transport"

	"golang.org/x/sync/errgroup"
)

type adapter interface {
	Topic() string
	Run(ctx context.Context) error
	Status() transport.Status
}

// Session owns one cache and one adapter per topic for its whole lifetime.
type Session struct {
	Projects      *cache.EntityCache[string, pipeline.Project]
	ProjectStates *cache.EntityCache[string, pipeline.ProjectState]
	Groups        *cache.EntityCache[string, pipeline.ExecutionGroup]
	Nodes         *cache.EntityCache[string, pipeline.NodeState]
	Tags          *tags.Index

	adapters []adapter
	tagSub   *cache.Subscription[string, pipeline.Project]
}

// New creates the caches and adapters. Nothing is read from source until Run.
func New(source transport.Source, opts transport.Options) (*Session, error) {
	s := &Session{
		Projects:      cache.New[string, pipeline.Project](pipeline.TopicProjects),
		ProjectStates: cache.New[string, pipeline.ProjectState](pipeline.TopicProjectStates),
		Groups:        cache.New[string, pipeline.ExecutionGroup](pipeline.TopicGroups),
		Nodes:         cache.New[string, pipeline.NodeState](pipeline.TopicNodes),
		Tags:          &tags.Index{},
	}

	sub, err := s.Projects.Subscribe(func(ev change.Event[string, pipeline.Project]) {
		if ev.Kind == change.KindDelete {
			return
		}
		if s.Tags.Observe(ev.Value.Tags...) {
			slog.Debug("tag index grew", "project", ev.ID, "tags", s.Tags.Len())
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe tag index: %w", err)
	}
	s.tagSub = sub

	s.adapters = []adapter{
		transport.NewAdapter(pipeline.TopicProjects, source, s.Projects, nil, opts),
		transport.NewAdapter(pipeline.TopicProjectStates, source, s.ProjectStates, nil, opts),
		transport.NewAdapter(pipeline.TopicGroups, source, s.Groups, nil, opts),
		transport.NewAdapter(pipeline.TopicNodes, source, s.Nodes, nil, opts),
	}
	return s, nil
}

// Run streams every topic until ctx is done. The first adapter to give up
// stops the others and its error is returned.
func (s *Session) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, a := range s.adapters {
		g.Go(func() error {
			if err := a.Run(ctx); err != nil {
				return fmt.Errorf("run %s adapter: %w", a.Topic(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Seed fills the caches from a one-shot listing of every topic.
func (s *Session) Seed(ctx context.Context, lister transport.Lister) error {
	if err := seed(ctx, lister, s.Projects); err != nil {
		return err
	}
	if err := seed(ctx, lister, s.ProjectStates); err != nil {
		return err
	}
	if err := seed(ctx, lister, s.Groups); err != nil {
		return err
	}
	return seed(ctx, lister, s.Nodes)
}

func seed[V any](ctx context.Context, lister transport.Lister, c *cache.EntityCache[string, V]) error {
	wires, err := lister.List(ctx, c.Topic())
	if err != nil {
		return fmt.Errorf("seed %s: %w", c.Topic(), err)
	}
	for _, w := range wires {
		ev, err := change.Decode(w, change.JSONCodec[V])
		if err != nil {
			slog.Warn("seed skipped entity", "topic", c.Topic(), "err", err)
			continue
		}
		if err := c.Apply(change.Create(ev.ID, ev.Value)); err != nil {
			return fmt.Errorf("seed %s: %w", c.Topic(), err)
		}
	}
	slog.Debug("topic seeded", "topic", c.Topic(), "entities", len(wires))
	return nil
}

// Summaries derives the group list for projectID, or for every project when
// projectID is empty, ordered by project then group ID.
func (s *Session) Summaries(projectID string) []pipeline.GroupSummary {
	states := s.ProjectStates.Snapshot()
	var out []pipeline.GroupSummary
	for _, g := range s.Groups.Snapshot() {
		if projectID != "" && g.ProjectID != projectID {
			continue
		}
		out = append(out, pipeline.Summarize(g, states[g.ProjectID].Paused))
	}
	slices.SortFunc(out, func(a, b pipeline.GroupSummary) int {
		if c := strings.Compare(a.ProjectID, b.ProjectID); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Statuses reports every adapter, in topic order.
func (s *Session) Statuses() []transport.Status {
	out := make([]transport.Status, 0, len(s.adapters))
	for _, a := range s.adapters {
		out = append(out, a.Status())
	}
	return out
}

// Close tears every topic down. Running adapters stop on their next apply.
func (s *Session) Close() {
	if s.tagSub != nil {
		s.tagSub.Cancel()
	}
	s.Projects.Close()
	s.ProjectStates.Close()
	s.Groups.Close()
	s.Nodes.Close()
}
