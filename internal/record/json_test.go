package record

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJSONFileSink_Save(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "calls")
	sink, err := NewJSONFileSink(dir)
	if err != nil {
		t.Fatalf("NewJSONFileSink: %v", err)
	}

	rec := FromSession(testSession(), OutcomeHangup, t0.Add(90*time.Second))
	if err := sink.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	want := filepath.Join(dir, "call-42_20260314_093130.json")
	if got := sink.Path(rec); got != want {
		t.Errorf("Path = %q, want %q", got, want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	var got Record
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SessionID != rec.SessionID || got.Outcome != OutcomeHangup {
		t.Errorf("decoded = %+v", got)
	}
	if got.Fields["Client_City__c"] != "Fresno" {
		t.Errorf("decoded fields = %v", got.Fields)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1 (no temp files left)", len(entries))
	}
}

func TestJSONFileSink_SanitizesSessionID(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewJSONFileSink(dir)
	if err != nil {
		t.Fatalf("NewJSONFileSink: %v", err)
	}
	p := sink.Path(Record{SessionID: "../etc/passwd", EndedAt: t0})
	if filepath.Dir(p) != dir {
		t.Errorf("Path = %q escapes %q", p, dir)
	}
}

func TestJSONFileSink_EmptyDir(t *testing.T) {
	if _, err := NewJSONFileSink(""); err == nil {
		t.Fatal("expected error for empty dir")
	}
}

func TestJSONFileSink_CancelledContext(t *testing.T) {
	sink, err := NewJSONFileSink(t.TempDir())
	if err != nil {
		t.Fatalf("NewJSONFileSink: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sink.Save(ctx, Record{SessionID: "x", EndedAt: t0}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
