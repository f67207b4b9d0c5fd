package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/sdata/internal/events"
)

const (
	// streamBacklog is how many recent events are kept for Last-Event-ID replay.
	streamBacklog = 1000

	streamKeepalive = 15 * time.Second

	// streamResetEvent tells a reconnecting client that events between its
	// Last-Event-ID and the oldest retained one are gone.
	streamResetEvent = "sdata.stream.reset"
)

// streamEvent is one published event, tagged with the record it concerns.
type streamEvent struct {
	ID     uint64
	Topic  string
	Record events.RecordRef // zero when the payload names no record
	Data   []byte
}

// streamFilter selects the events one client receives.
type streamFilter struct {
	topics []string          // NATS-style patterns; empty matches every topic
	record *events.RecordRef // nil matches every record
}

func (f streamFilter) matches(evt *streamEvent) bool {
	if f.record != nil && evt.Record != *f.record {
		return false
	}
	if len(f.topics) == 0 {
		return true
	}
	for _, p := range f.topics {
		if matchTopicPattern(p, evt.Topic) {
			return true
		}
	}
	return false
}

// StreamHub fans lifecycle events out to server-sent-event clients. It is an
// events.Publisher, so the service publishes to it alongside NATS.
type StreamHub struct {
	mu      sync.RWMutex
	clients map[*streamClient]struct{}

	// log holds the most recent events in ascending ID order.
	logMu  sync.RWMutex
	log    []*streamEvent
	lastID uint64
}

type streamClient struct {
	filter streamFilter
	ch     chan *streamEvent
}

func NewStreamHub() *StreamHub {
	return &StreamHub{clients: make(map[*streamClient]struct{})}
}

// Publish JSON-encodes event and broadcasts it. Payloads implementing
// events.RecordEvent can be followed per record.
func (h *StreamHub) Publish(_ context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	var ref events.RecordRef
	if re, ok := event.(events.RecordEvent); ok {
		ref = re.Ref()
	}
	h.broadcast(topic, ref, data)
	return nil
}

func (h *StreamHub) Close() error { return nil }

func (h *StreamHub) broadcast(topic string, ref events.RecordRef, payload []byte) {
	h.logMu.Lock()
	h.lastID++
	evt := &streamEvent{ID: h.lastID, Topic: topic, Record: ref, Data: payload}
	h.log = append(h.log, evt)
	if n := len(h.log); n > streamBacklog {
		h.log = h.log[n-streamBacklog:]
	}
	h.logMu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.filter.matches(evt) {
			continue
		}
		select {
		case c.ch <- evt:
		default:
			// Slow client; it can catch up with Last-Event-ID.
		}
	}
}

func (h *StreamHub) subscribe(f streamFilter) *streamClient {
	c := &streamClient{filter: f, ch: make(chan *streamEvent, 64)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *StreamHub) unsubscribe(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// since returns retained events after lastID that pass f, oldest first.
// oldest is the ID of the first retained event when events after lastID
// have already been discarded, else 0.
func (h *StreamHub) since(lastID uint64, f streamFilter) (out []*streamEvent, oldest uint64) {
	h.logMu.RLock()
	defer h.logMu.RUnlock()

	if len(h.log) > 0 && h.log[0].ID > lastID+1 {
		oldest = h.log[0].ID
	}
	i := sort.Search(len(h.log), func(i int) bool { return h.log[i].ID > lastID })
	for _, evt := range h.log[i:] {
		if f.matches(evt) {
			out = append(out, evt)
		}
	}
	return out, oldest
}

// matchTopicPattern matches dot-separated topics with NATS semantics: "*"
// is one segment, a trailing ">" is one or more segments.
func matchTopicPattern(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	patParts := strings.Split(pattern, ".")
	topParts := strings.Split(topic, ".")

	for i, pp := range patParts {
		if pp == ">" {
			return i < len(topParts)
		}
		if i >= len(topParts) {
			return false
		}
		if pp != "*" && pp != topParts[i] {
			return false
		}
	}
	return len(patParts) == len(topParts)
}

// streamFilterOf reads ?topics=a,b and ?record=<type>/<hex id>.
func streamFilterOf(r *http.Request) (streamFilter, error) {
	var f streamFilter
	q := r.URL.Query()
	if v := q.Get("topics"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.topics = append(f.topics, t)
			}
		}
	}
	if v := q.Get("record"); v != "" {
		key, err := parseRecordKey(v)
		if err != nil {
			return f, err
		}
		ref := events.RefOf(key)
		f.record = &ref
	}
	return f, nil
}

// handleEventStream handles GET /v1/events/stream.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	filter, err := streamFilterOf(r)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	client := s.hub.subscribe(filter)
	defer s.hub.unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Events replayed here may also be queued on client.ch; skip those.
	var sent uint64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if lastID, err := strconv.ParseUint(v, 10, 64); err == nil {
			sent = lastID
			replay, oldest := s.hub.since(lastID, filter)
			if oldest > 0 {
				fmt.Fprintf(w, "event:%s\ndata:{\"oldest_id\":%d}\n\n", streamResetEvent, oldest)
			}
			for _, evt := range replay {
				writeStreamEvent(w, evt)
				sent = evt.ID
			}
			flusher.Flush()
		}
	}

	keepalive := time.NewTicker(streamKeepalive)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-client.ch:
			if evt.ID <= sent {
				continue
			}
			writeStreamEvent(w, evt)
			sent = evt.ID
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeStreamEvent(w http.ResponseWriter, evt *streamEvent) {
	fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", evt.ID, evt.Topic, evt.Data)
}
