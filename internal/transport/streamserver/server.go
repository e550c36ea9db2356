// Package streamserver serves entity topics over HTTP in the framing read by
// transport.HTTPSource. It backs the development server and end-to-end tests.
package streamserver

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pipesync/internal/cache"
	"pipesync/internal/change"
	"pipesync/internal/transport"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
)

type Options struct {
	// Token, when set, is required as a bearer token on every request.
	Token string
	// LogLevel is one of debug, info, warn, error or off.
	LogLevel string
}

// Server holds one entity cache per topic and streams its changes.
type Server struct {
	echo     *echo.Echo
	changeID atomic.Uint64

	mu     sync.Mutex
	topics map[string]*cache.EntityCache[string, json.RawMessage]
	closed bool
}

func New(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	setLevel(e, opts.LogLevel)

	s := &Server{
		echo:   e,
		topics: make(map[string]*cache.EntityCache[string, json.RawMessage]),
	}

	e.Use(logRequests)
	if token := strings.TrimSpace(opts.Token); token != "" {
		e.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			Validator: func(key string, _ echo.Context) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1, nil
			},
		}))
	}
	e.GET("/v1/events", s.handleEvents)
	e.GET("/v1/entities", s.handleEntities)
	e.GET("/v1/topics", s.handleTopics)
	return s
}

// Handler exposes the routes for use with net/http servers and httptest.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.echo.Logger.Infof("stream server listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve %s: %w", addr, err)
	}
	return nil
}

// Shutdown ends every open stream and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Close()
	return s.echo.Shutdown(ctx)
}

// Close closes every topic. Open streams end with an error frame.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	topics := s.topics
	s.topics = make(map[string]*cache.EntityCache[string, json.RawMessage])
	s.mu.Unlock()

	for _, t := range topics {
		t.Close()
	}
}

// Publish applies ev to topic and fans it out to every open stream.
func (s *Server) Publish(topic string, ev change.Event[string, json.RawMessage]) error {
	t, err := s.topic(topic)
	if err != nil {
		return err
	}
	if err := t.Apply(ev); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	s.changeID.Add(1)
	return nil
}

// Reconcile publishes the events that turn topic into want: creates for new
// ids, updates for changed values and deletes for ids missing from want.
func (s *Server) Reconcile(topic string, want map[string]json.RawMessage) (int, error) {
	t, err := s.topic(topic)
	if err != nil {
		return 0, err
	}
	have := t.Snapshot()

	var events []change.Event[string, json.RawMessage]
	for _, id := range sortedKeys(want) {
		value := compact(want[id])
		old, ok := have[id]
		switch {
		case !ok:
			events = append(events, change.Create(id, value))
		case !bytes.Equal(old, value):
			events = append(events, change.Update(id, value))
		}
	}
	for _, id := range sortedKeys(have) {
		if _, ok := want[id]; !ok {
			events = append(events, change.Delete[string, json.RawMessage](id))
		}
	}

	for i, ev := range events {
		if err := s.Publish(topic, ev); err != nil {
			return i, err
		}
	}
	return len(events), nil
}

// Topics lists the topics that have been published to or subscribed.
func (s *Server) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.topics)
}

func (s *Server) topic(name string) (*cache.EntityCache[string, json.RawMessage], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, cache.ErrClosed
	}
	t, ok := s.topics[name]
	if !ok {
		t = cache.New[string, json.RawMessage](name)
		s.topics[name] = t
	}
	return t, nil
}

func (s *Server) handleEvents(c echo.Context) error {
	name, err := topicParam(c)
	if err != nil {
		return err
	}
	t, err := s.topic(name)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}

	ctx := c.Request().Context()
	replayed := 0
	events, err := t.Watch(ctx, cache.OnReplayed(func(n int) { replayed = n }))
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.WriteHeader(http.StatusOK)

	for sent := 0; ; sent++ {
		if sent == replayed {
			if err := writeFrame(c, transport.EOQFrame(s.changeID.Load())); err != nil {
				return err
			}
			resp.Flush()
		}

		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() == nil {
					_ = writeFrame(c, transport.ErrorFrame("topic "+name+" closed"))
					resp.Flush()
				}
				return nil
			}
			w, err := change.Encode(ev)
			if err != nil {
				c.Logger().Warnf("skip unencodable %s event %q: %v", name, ev.ID, err)
				continue
			}
			if err := writeFrame(c, transport.EventFrame(w)); err != nil {
				return err
			}
			if sent >= replayed {
				resp.Flush()
			}
		}
	}
}

func (s *Server) handleEntities(c echo.Context) error {
	name, err := topicParam(c)
	if err != nil {
		return err
	}
	t, err := s.topic(name)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}

	entries := t.Snapshot()
	out := make([]change.Wire, 0, len(entries))
	for _, id := range sortedKeys(entries) {
		w, err := change.Encode(change.Create(id, entries[id]))
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		out = append(out, w)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleTopics(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Topics())
}

func topicParam(c echo.Context) (string, error) {
	name := strings.TrimSpace(c.QueryParam("topic"))
	if name == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "topic query parameter is required")
	}
	return name, nil
}

func writeFrame(c echo.Context, f transport.Frame) error {
	line, err := f.MarshalLine()
	if err != nil {
		return err
	}
	_, err = c.Response().Write(line)
	return err
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		begin := time.Now()
		c.Logger().Debugf("< %s %s", req.Method, req.URL)
		err := next(c)
		c.Logger().Debugf("> %s %s status=%d in %v err=%v", req.Method, req.URL, c.Response().Status, time.Since(begin), err)
		return err
	}
}

func setLevel(e *echo.Echo, level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		e.Logger.SetLevel(log.DEBUG)
	case "info":
		e.Logger.SetLevel(log.INFO)
	case "", "warn":
		e.Logger.SetLevel(log.WARN)
	case "error":
		e.Logger.SetLevel(log.ERROR)
	case "off":
		e.Logger.SetLevel(log.OFF)
	default:
		e.Logger.SetLevel(log.WARN)
		e.Logger.Warnf("unknown log level %q; using warn", level)
	}
}
