package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/dropwatch/internal/events"
)

const sseKeepAlive = 15 * time.Second

// sseStream writes events in text/event-stream framing and remembers the
// last ID sent so replayed and live events are never sent twice.
type sseStream struct {
	w      io.Writer
	flush  func()
	lastID int64
}

func (s *sseStream) send(ev events.Event) error {
	if ev.ID <= s.lastID {
		return nil
	}
	frame := "id: " + strconv.FormatInt(ev.ID, 10) + "\n"
	if ev.Type != "" {
		frame += "event: " + ev.Type + "\n"
	}
	// Payloads are compact JSON and never span lines.
	frame += "data: " + string(ev.Data) + "\n\n"
	if _, err := io.WriteString(s.w, frame); err != nil {
		return err
	}
	s.lastID = ev.ID
	return nil
}

func (s *sseStream) ping() error {
	_, err := io.WriteString(s.w, ": keep-alive\n\n")
	return err
}

// handleEvents streams dispatcher events. Retained events newer than
// Last-Event-ID go out first, then live ones.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe before reading the backlog or events published in between are lost.
	live, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	stream := &sseStream{w: w, flush: flusher.Flush, lastID: parseLastEventID(r.Header.Get("Last-Event-ID"))}
	for _, ev := range s.events.Since(stream.lastID) {
		if err := stream.send(ev); err != nil {
			return
		}
	}
	stream.flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-live:
			if !open {
				return
			}
			err = stream.send(ev)
		case <-keepAlive.C:
			err = stream.ping()
		}
		if err != nil {
			s.logger.Debug("event stream closed", "error", err)
			return
		}
		stream.flush()
	}
}

// parseLastEventID returns 0 for anything that is not a non-negative integer.
func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
