package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattjoyce/dropwatch/internal/events"
)

type eventMsg events.Event

type healthMsg struct {
	Status             string    `json:"status"`
	UptimeSeconds      int64     `json:"uptime_seconds"`
	Running            bool      `json:"running"`
	AwaitingCompletion bool      `json:"awaiting_completion"`
	CurrentJob         string    `json:"current_job"`
	CurrentSince       time.Time `json:"current_since"`
	GateWaiters        int       `json:"gate_waiters"`
}

// state converts a /healthz answer into the header's view of it.
func (h healthMsg) state() HealthState {
	return HealthState{
		Status:             h.Status,
		UptimeSeconds:      h.UptimeSeconds,
		Running:            h.Running,
		AwaitingCompletion: h.AwaitingCompletion,
		CurrentJob:         h.CurrentJob,
		CurrentSince:       h.CurrentSince,
		GateWaiters:        h.GateWaiters,
		Connected:          true,
		LastCheck:          time.Now(),
	}
}

type tickMsg time.Time

type errMsg error

// sseDisconnectedMsg carries the last event id seen so the reconnect can
// resume from it.
type sseDisconnectedMsg struct {
	lastID int64
}

type reconnectMsg struct {
	lastID int64
}

// subscribeToEvents connects to the SSE /events endpoint and feeds events
// into ch. It returns sseDisconnectedMsg when the connection drops.
func subscribeToEvents(apiURL, apiKey string, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, apiURL+"/events", nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+apiKey)
		if lastID > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{lastID: lastID}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("GET /events: %s", resp.Status))
		}

		last := readSSE(resp.Body, func(ev events.Event) { ch <- ev })
		if last > lastID {
			lastID = last
		}
		return sseDisconnectedMsg{lastID: lastID}
	}
}

// readSSE parses an event stream, calling emit for every complete event.
// It returns the highest id seen.
func readSSE(r io.Reader, emit func(events.Event)) int64 {
	scanner := bufio.NewScanner(r)
	var (
		lastID  int64
		current events.Event
		data    string
	)

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if data != "" {
				current.Data = json.RawMessage(data)
				if current.At.IsZero() {
					current.At = time.Now()
				}
				emit(current)
				if current.ID > lastID {
					lastID = current.ID
				}
			}
			current = events.Event{}
			data = ""
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				current.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			current.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			data = line[6:]
		}
	}
	return lastID
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchHealth queries the /healthz endpoint. A stopped dispatcher answers
// 503 with a normal body, so the status code is not treated as an error.
func fetchHealth(apiURL, apiKey string) tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequest(http.MethodGet, apiURL+"/healthz", nil)
	if err != nil {
		return errMsg(err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return h
}
