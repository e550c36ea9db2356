package fake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"pipesync/internal/change"
	"pipesync/internal/fake/fault"
	"pipesync/internal/transport"
)

const (
	FaultSourceOpen = "source.open"
	FaultSourceList = "source.list"
)

// ErrStreamClosed ends a fake stream that was disconnected or closed.
var ErrStreamClosed = errors.New("fake stream closed")

var (
	_ transport.Source = (*Source)(nil)
	_ transport.Lister = (*Source)(nil)
)

// Source is a scripted transport.Source. Every Open replays the topic's
// snapshot lines followed by an end-of-snapshot frame, then serves whatever
// is pushed until the stream is disconnected.
type Source struct {
	CallRecorder

	faults *fault.Injector

	mu        sync.Mutex
	snapshots map[string][][]byte
	streams   map[string][]*Stream
	opens     map[string]int
	changeID  uint64
	opened    chan struct{}
}

// NewSource returns an empty source. faults may be nil.
func NewSource(faults *fault.Injector) *Source {
	return &Source{
		faults:    faults,
		snapshots: make(map[string][][]byte),
		streams:   make(map[string][]*Stream),
		opens:     make(map[string]int),
		opened:    make(chan struct{}),
	}
}

// SetSnapshot replaces the lines replayed to every new stream of topic.
func (s *Source) SetSnapshot(topic string, lines ...[]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[topic] = lines
}

func (s *Source) Open(ctx context.Context, topic string) (transport.Stream, error) {
	s.record("Open", topic)
	if err := s.faults.Eval(FaultSourceOpen, topic); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := newStream()
	for _, line := range s.snapshots[topic] {
		st.push(line)
	}
	s.changeID++
	st.push(EOQLine(s.changeID))
	s.streams[topic] = append(s.streams[topic], st)

	s.opens[topic]++
	close(s.opened)
	s.opened = make(chan struct{})
	return st, nil
}

// List returns the snapshot lines of topic that decode as events.
func (s *Source) List(ctx context.Context, topic string) ([]change.Wire, error) {
	s.record("List", topic)
	if err := s.faults.Eval(FaultSourceList, topic); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	lines := s.snapshots[topic]
	s.mu.Unlock()

	out := make([]change.Wire, 0, len(lines))
	for _, line := range lines {
		var f transport.Frame
		if err := json.Unmarshal(line, &f); err != nil || f.EOQ != nil || f.Error != nil {
			continue
		}
		out = append(out, f.Wire)
	}
	return out, nil
}

// Push delivers line to every open stream of topic.
func (s *Source) Push(topic string, line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.streams[topic] {
		st.push(line)
	}
}

// Disconnect ends every open stream of topic once its queued lines drain.
func (s *Source) Disconnect(topic string) {
	s.mu.Lock()
	streams := s.streams[topic]
	delete(s.streams, topic)
	s.mu.Unlock()

	for _, st := range streams {
		st.Close()
	}
}

// Opens reports how many streams of topic have been opened.
func (s *Source) Opens(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens[topic]
}

// WaitOpens blocks until topic has been opened at least n times.
func (s *Source) WaitOpens(ctx context.Context, topic string, n int) error {
	for {
		s.mu.Lock()
		got := s.opens[topic]
		opened := s.opened
		s.mu.Unlock()
		if got >= n {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %d opens of %s (have %d): %w", n, topic, got, ctx.Err())
		case <-opened:
		}
	}
}

// Stream is an in-memory transport.Stream with an unbounded queue.
type Stream struct {
	mu     sync.Mutex
	lines  [][]byte
	closed bool
	notify chan struct{}
}

func newStream() *Stream {
	return &Stream{notify: make(chan struct{}, 1)}
}

func (st *Stream) push(line []byte) {
	st.mu.Lock()
	if !st.closed {
		st.lines = append(st.lines, line)
	}
	st.mu.Unlock()
	st.wake()
}

func (st *Stream) wake() {
	select {
	case st.notify <- struct{}{}:
	default:
	}
}

func (st *Stream) Next(ctx context.Context) ([]byte, error) {
	for {
		st.mu.Lock()
		if len(st.lines) > 0 {
			line := st.lines[0]
			st.lines = st.lines[1:]
			st.mu.Unlock()
			return line, nil
		}
		closed := st.closed
		st.mu.Unlock()
		if closed {
			return nil, ErrStreamClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-st.notify:
		}
	}
}

func (st *Stream) Close() error {
	st.mu.Lock()
	st.closed = true
	st.mu.Unlock()
	st.wake()
	return nil
}

// CreateLine encodes a create frame for id with value marshalled as JSON.
func CreateLine(id string, value any) []byte {
	return eventLine(change.KindCreate, id, value)
}

func UpdateLine(id string, value any) []byte {
	return eventLine(change.KindUpdate, id, value)
}

func DeleteLine(id string) []byte {
	return eventLine(change.KindDelete, id, nil)
}

func EOQLine(changeID uint64) []byte {
	return mustLine(transport.EOQFrame(changeID))
}

func ErrorLine(msg string) []byte {
	return mustLine(transport.ErrorFrame(msg))
}

func eventLine(kind change.Kind, id string, value any) []byte {
	w := change.Wire{Kind: kind.String(), Identifier: &id}
	if value != nil {
		data, err := json.Marshal(value)
		if err != nil {
			panic(fmt.Sprintf("fake: marshal %s value: %v", id, err))
		}
		w.Value = data
	}
	return mustLine(transport.EventFrame(w))
}

func mustLine(f transport.Frame) []byte {
	line, err := f.MarshalLine()
	if err != nil {
		panic(fmt.Sprintf("fake: marshal frame: %v", err))
	}
	return line
}
