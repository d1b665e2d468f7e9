package ids

import (
	"testing"
	"time"
)

func TestEventIDsSortWithinOneMillisecond(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	prev := NewEventID(at)
	for i := 0; i < 100; i++ {
		id := NewEventID(at)
		if id <= prev {
			t.Fatalf("id %s does not sort after %s", id, prev)
		}
		prev = id
	}
}

func TestTimeRecoversMintTime(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	got, err := Time(NewEntryID(at))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(at) {
		t.Fatalf("expected %s, got %s", at, got)
	}
	if _, err := Time("not-an-id"); err == nil {
		t.Fatalf("expected a parse error")
	}
}

func TestRunTag(t *testing.T) {
	tag := RunTag()
	if len(tag) != 6 {
		t.Fatalf("expected 6 characters, got %q", tag)
	}
	for _, r := range tag {
		if r >= 'A' && r <= 'Z' {
			t.Fatalf("expected lowercase, got %q", tag)
		}
	}
}
