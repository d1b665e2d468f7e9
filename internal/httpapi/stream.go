package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"sunshine.org/internal/events"
)

// Stream serves committed events as Server-Sent Events. With ?after=SEQ the
// backlog after SEQ is replayed first; live events at or below the last
// replayed sequence are skipped.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.stream == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	var after uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			fail(w, r, fmt.Errorf("%w: invalid after %q", errBadRequest, raw))
			return
		}
		after = v
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before reading the backlog so nothing committed in between
	// is lost.
	ch := a.stream.Subscribe(ctx)

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	if r.URL.Query().Has("after") {
		for {
			backlog, next := a.eng.Events(maxEventPage, after)
			for _, e := range backlog {
				writeEvent(w, e)
			}
			flusher.Flush()
			after = next
			if len(backlog) < maxEventPage {
				break
			}
		}
	}

	for e := range ch {
		if e.Seq <= after {
			continue
		}
		writeEvent(w, e)
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, e events.Event) {
	payload, err := events.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Seq, e.Type, payload)
}
