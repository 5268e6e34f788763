package session

import (
	"strings"
	"testing"
)

func TestDiagnosticLogEvictsOldest(t *testing.T) {
	d := NewDiagnosticLog(3)
	for _, msg := range []string{"one", "two", "three", "four"} {
		d.Addf("%s", msg)
	}
	entries := d.Entries()
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if strings.HasSuffix(entries[0], "one") {
		t.Error("oldest entry not evicted")
	}
	if !strings.HasSuffix(entries[2], "four") {
		t.Errorf("newest entry = %q", entries[2])
	}
}

func TestDiagnosticLogEntriesAreCopies(t *testing.T) {
	d := NewDiagnosticLog(0) // default capacity
	d.Addf("stable")
	entries := d.Entries()
	entries[0] = "mutated"
	if got := d.Entries()[0]; !strings.HasSuffix(got, "stable") {
		t.Errorf("internal entry changed: %q", got)
	}
}
