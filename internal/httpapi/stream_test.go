package httpapi

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestStreamReplaysBacklogThenLive(t *testing.T) {
	c := newTestAPI(t, Options{})
	orgID := c.registerPair()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/events/stream?after=0", nil)
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if line := lines.Text(); strings.HasPrefix(line, "event: ") {
				return strings.TrimPrefix(line, "event: ")
			}
		}
		t.Fatalf("stream ended: %v", lines.Err())
		return ""
	}
	if got := next(); got != "OrgRegistered" {
		t.Fatalf("expected the backlog first, got %s", got)
	}

	c.expect(c.post("/v1/banks", map[string]any{"org": orgID, "seed": 10}, as("alice")), http.StatusCreated, nil)
	for {
		if next() == "BankOpened" {
			return
		}
	}
}
