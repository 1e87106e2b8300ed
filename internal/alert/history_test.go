package alert

import (
	"fmt"
	"testing"
)

func TestHistory_Recent(t *testing.T) {
	h := NewHistory(100)
	for i := 1; i <= 10; i++ {
		h.Push(Notification{ID: fmt.Sprint(i)})
	}

	got := h.Recent(3)
	if len(got) != 3 {
		t.Fatalf("Recent(3): expected 3, got %d", len(got))
	}
	for i, want := range []string{"10", "9", "8"} {
		if got[i].ID != want {
			t.Errorf("entry[%d].ID = %s, want %s", i, got[i].ID, want)
		}
	}
	if n := len(h.Recent(0)); n != 10 {
		t.Errorf("Recent(0) = %d entries, want 10", n)
	}
}

func TestHistory_Wraparound(t *testing.T) {
	h := NewHistory(5)
	for i := 1; i <= 8; i++ {
		h.Push(Notification{ID: fmt.Sprint(i)})
	}

	if h.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", h.Len())
	}
	got := h.Recent(10)
	if len(got) != 5 {
		t.Fatalf("Recent(10): expected 5, got %d", len(got))
	}
	if got[0].ID != "8" {
		t.Errorf("newest = %s, want 8", got[0].ID)
	}
	if got[4].ID != "4" {
		t.Errorf("oldest = %s, want 4", got[4].ID)
	}
}

func TestHistory_Clear(t *testing.T) {
	h := NewHistory(3)
	h.Push(Notification{ID: "a"}, Notification{ID: "b"}, Notification{ID: "c"}, Notification{ID: "d"})
	h.Clear()
	if h.Len() != 0 || len(h.Recent(0)) != 0 {
		t.Fatalf("history not empty after Clear")
	}
}
