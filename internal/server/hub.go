// Package server exposes runs over HTTP: a JSON API to start and cancel
// runs, plus SSE and websocket streams of their progress events.
package server

import (
	"encoding/json"
	"sync"
	"time"

	"orchid/internal/engine"
	"orchid/internal/events"
	"orchid/internal/logging"
)

const (
	// subscriberBuffer bounds each stream's in-flight backlog; a subscriber
	// that falls further behind loses events rather than stalling the run.
	subscriberBuffer = 64
	// historyLimit bounds the per-run replay buffer.
	historyLimit = 1024
)

// runSession is one started run plus the fan-out of its events. It is the
// run's event listener: the engine pushes events in, subscribers stream
// them out, and late subscribers replay the history first.
type runSession struct {
	handle    *engine.RunHandle
	startedAt time.Time

	mu      sync.Mutex
	history [][]byte
	subs    map[chan []byte]struct{}
	done    bool
}

func newRunSession() *runSession {
	return &runSession{
		startedAt: time.Now(),
		subs:      make(map[chan []byte]struct{}),
	}
}

// OnEvent implements events.Listener.
func (s *runSession) OnEvent(event events.Event) {
	payload, err := json.Marshal(events.Envelope(event))
	if err != nil {
		return
	}
	// Nested runs report their own final_answer at depth > 0; only the
	// parent's terminates the stream.
	final := event.EventType() == "final_answer" && event.GetDepth() == 0

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) < historyLimit {
		s.history = append(s.history, payload)
	}
	for sub := range s.subs {
		select {
		case sub <- payload:
		default:
		}
	}
	if final {
		s.done = true
		for sub := range s.subs {
			close(sub)
			delete(s.subs, sub)
		}
	}
}

// subscribe returns the replayed history and, unless the run already
// finished, a live channel. The channel is closed when the run terminates.
func (s *runSession) subscribe() ([][]byte, chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	replay := make([][]byte, len(s.history))
	copy(replay, s.history)
	if s.done {
		return replay, nil
	}
	sub := make(chan []byte, subscriberBuffer)
	s.subs[sub] = struct{}{}
	return replay, sub
}

func (s *runSession) unsubscribe(sub chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub]; ok {
		delete(s.subs, sub)
		close(sub)
	}
}

// hub tracks live and recently finished runs by id.
type hub struct {
	mu        sync.RWMutex
	sessions  map[string]*runSession
	retention time.Duration
	logger    logging.Logger
}

func newHub(retention time.Duration, logger logging.Logger) *hub {
	if retention <= 0 {
		retention = time.Hour
	}
	return &hub{
		sessions:  make(map[string]*runSession),
		retention: retention,
		logger:    logging.OrNop(logger),
	}
}

// track registers a started run and schedules its removal once it has been
// finished for the retention window.
func (h *hub) track(session *runSession) {
	runID := session.handle.RunID
	h.mu.Lock()
	h.sessions[runID] = session
	h.mu.Unlock()

	go func() {
		<-session.handle.Done()
		time.AfterFunc(h.retention, func() {
			h.mu.Lock()
			delete(h.sessions, runID)
			h.mu.Unlock()
			h.logger.Debug("run %s evicted after retention", runID)
		})
	}()
}

func (h *hub) get(runID string) (*runSession, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	session, ok := h.sessions[runID]
	return session, ok
}
