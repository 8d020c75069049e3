package output

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/ehr/hl7gen/internal/batch"
)

func testSummary() *batch.Summary {
	ts := time.Date(2025, time.November, 5, 10, 20, 30, 0, time.UTC)
	return &batch.Summary{
		RunID:      "run-1",
		Total:      3,
		Successful: 2,
		Failed:     1,
		Results: []batch.Outcome{
			{Sequence: 1, Status: batch.StatusSuccess, Message: "BHS|1\nBTS|1", Timestamp: ts},
			{Sequence: 2, Status: batch.StatusError, Error: "bad record", Timestamp: ts},
			{Sequence: 3, Status: batch.StatusSuccess, Message: "BHS|3\nBTS|3", Timestamp: ts},
		},
	}
}

func TestWriter_Write(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := NewWriter(fs, "out", "hl7_message")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	m, err := w.Write(testSummary())
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if len(m.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(m.Files))
	}
	if m.Files[0].Name != "hl7_message_001.hl7" || m.Files[1].Name != "hl7_message_003.hl7" {
		t.Errorf("unexpected file names: %+v", m.Files)
	}

	data, err := afero.ReadFile(fs, filepath.Join("out", "hl7_message_003.hl7"))
	if err != nil {
		t.Fatalf("read message file: %v", err)
	}
	if string(data) != "BHS|3\nBTS|3" {
		t.Errorf("message file content = %q", data)
	}

	if ok, _ := afero.Exists(fs, filepath.Join("out", "hl7_message_002.hl7")); ok {
		t.Error("failed record must not produce a message file")
	}
}

func TestWriter_SummaryFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, _ := NewWriter(fs, "out", "run")

	if _, err := w.Write(testSummary()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := afero.ReadFile(fs, filepath.Join("out", "run_summary.json"))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("summary is not JSON: %v", err)
	}
	if got["total_processed"].(float64) != 3 || got["failed"].(float64) != 1 {
		t.Errorf("unexpected counts in summary: %v", got)
	}
	if got["run_id"] != "run-1" {
		t.Errorf("expected run_id to be kept, got %v", got["run_id"])
	}
	files := got["files"].([]interface{})
	first := files[0].(map[string]interface{})
	if len(first["sha256"].(string)) != 64 {
		t.Errorf("expected hex sha256, got %v", first["sha256"])
	}
}

func TestWriter_EmptySummary(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, _ := NewWriter(fs, "", "x")

	m, err := w.Write(&batch.Summary{Results: []batch.Outcome{}})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(m.Files) != 0 {
		t.Errorf("expected no files, got %d", len(m.Files))
	}
	if ok, _ := afero.Exists(fs, "x_summary.json"); !ok {
		t.Error("expected summary file even for an empty run")
	}
}

func TestWriter_Errors(t *testing.T) {
	if _, err := NewWriter(afero.NewMemMapFs(), "out", " "); !errors.Is(err, ErrMissingPrefix) {
		t.Errorf("expected ErrMissingPrefix, got %v", err)
	}

	w, _ := NewWriter(afero.NewMemMapFs(), "out", "p")
	if _, err := w.Write(nil); !errors.Is(err, ErrNilSummary) {
		t.Errorf("expected ErrNilSummary, got %v", err)
	}

	ro, _ := NewWriter(afero.NewReadOnlyFs(afero.NewMemMapFs()), "out", "p")
	if _, err := ro.Write(testSummary()); err == nil {
		t.Error("expected error writing to a read-only filesystem")
	}
}

func TestWriter_Names(t *testing.T) {
	w, _ := NewWriter(afero.NewMemMapFs(), "out", "hl7_message")
	if got := w.MessageName(7); got != "hl7_message_007.hl7" {
		t.Errorf("MessageName(7) = %q", got)
	}
	if got := w.MessageName(1234); got != "hl7_message_1234.hl7" {
		t.Errorf("MessageName(1234) = %q", got)
	}
	if got := w.SummaryName(); got != "hl7_message_summary.json" {
		t.Errorf("SummaryName() = %q", got)
	}
}
