// Package output persists batch results: one .hl7 file per successfully
// encoded record plus a JSON summary of the run.
package output

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/ehr/hl7gen/internal/batch"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrMissingPrefix = errors.New("output: file prefix is required")
	ErrNilSummary    = errors.New("output: summary is required")
)

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

// File describes one written message file.
type File struct {
	Sequence int    `json:"sequence"`
	Name     string `json:"file_name"`
	Size     int    `json:"size"`
	Hash     string `json:"sha256"`
}

// Manifest is the summary file content: the run summary plus the files
// written for it.
type Manifest struct {
	*batch.Summary
	Files []File `json:"files"`
}

// ---------------------------------------------------------------------------
// Writer
// ---------------------------------------------------------------------------

// Writer writes batch results under a directory of an afero filesystem.
type Writer struct {
	fs     afero.Fs
	dir    string
	prefix string
}

// NewWriter returns a Writer for dir. Use afero.NewOsFs for disk output and
// afero.NewMemMapFs in tests.
func NewWriter(fs afero.Fs, dir, prefix string) (*Writer, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, ErrMissingPrefix
	}
	if dir == "" {
		dir = "."
	}
	return &Writer{fs: fs, dir: dir, prefix: prefix}, nil
}

// MessageName returns the file name used for the record at seq.
func (w *Writer) MessageName(seq int) string {
	return fmt.Sprintf("%s_%03d.hl7", w.prefix, seq)
}

// SummaryName returns the file name of the run summary.
func (w *Writer) SummaryName() string {
	return w.prefix + "_summary.json"
}

// Write stores every successful outcome as its own message file and then the
// summary. Failed outcomes only appear in the summary.
func (w *Writer) Write(sum *batch.Summary) (*Manifest, error) {
	if sum == nil {
		return nil, ErrNilSummary
	}
	if err := w.fs.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("output: create %s: %w", w.dir, err)
	}

	m := &Manifest{Summary: sum, Files: []File{}}
	for _, o := range sum.Results {
		if o.Status != batch.StatusSuccess {
			continue
		}
		name := w.MessageName(o.Sequence)
		data := []byte(o.Message)
		if err := afero.WriteFile(w.fs, filepath.Join(w.dir, name), data, 0o644); err != nil {
			return nil, fmt.Errorf("output: write %s: %w", name, err)
		}
		digest := sha256.Sum256(data)
		m.Files = append(m.Files, File{
			Sequence: o.Sequence,
			Name:     name,
			Size:     len(data),
			Hash:     hex.EncodeToString(digest[:]),
		})
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("output: encode summary: %w", err)
	}
	if err := afero.WriteFile(w.fs, filepath.Join(w.dir, w.SummaryName()), data, 0o644); err != nil {
		return nil, fmt.Errorf("output: write %s: %w", w.SummaryName(), err)
	}
	return m, nil
}
