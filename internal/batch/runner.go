// Package batch applies the HL7 encoder to an ordered set of records, turning
// every record into an independent success or error outcome.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Status is the result of encoding one record.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Outcome is the per-record result of a batch run. Sequence is 1-based and
// matches the record's position in the input.
type Outcome struct {
	Sequence  int       `json:"sequence"`
	Status    Status    `json:"status"`
	Message   string    `json:"hl7_message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary counts the outcomes of a run.
type Summary struct {
	RunID      string    `json:"run_id"`
	Total      int       `json:"total_processed"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Results    []Outcome `json:"results"`
}

// Encoder encodes one JSON record.
type Encoder interface {
	EncodeJSON(data []byte) (string, error)
}

// Config tunes a Runner.
type Config struct {
	// Workers bounds concurrent encodings. 1 runs records sequentially;
	// 0 uses GOMAXPROCS.
	Workers int
	Clock   func() time.Time
}

// Runner encodes batches of records with per-record failure isolation.
type Runner struct {
	enc     Encoder
	workers int
	clock   func() time.Time
	logger  zerolog.Logger
}

// NewRunner creates a Runner around enc.
func NewRunner(enc Encoder, cfg Config, logger zerolog.Logger) *Runner {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Runner{enc: enc, workers: workers, clock: clock, logger: logger}
}

// Run encodes every item and returns one outcome per item, in input order.
// A failing or panicking record never affects its siblings. Records not yet
// started when ctx is cancelled are reported as errors.
func (r *Runner) Run(ctx context.Context, items []json.RawMessage) *Summary {
	runID := uuid.New().String()
	logger := r.logger.With().Str("run_id", runID).Logger()
	logger.Info().Int("records", len(items)).Int("workers", r.workers).Msg("batch started")

	outcomes := make([]Outcome, len(items))

	var g errgroup.Group
	g.SetLimit(r.workers)
	for i := range items {
		i := i
		g.Go(func() error {
			outcomes[i] = r.encodeOne(ctx, i+1, items[i])
			return nil
		})
	}
	_ = g.Wait()

	sum := &Summary{RunID: runID, Total: len(outcomes), Results: outcomes}
	for _, o := range outcomes {
		if o.Status == StatusSuccess {
			sum.Successful++
			logger.Info().Int("sequence", o.Sequence).Msg("generated HL7 message")
		} else {
			sum.Failed++
			logger.Error().Int("sequence", o.Sequence).Str("error", o.Error).Msg("failed to generate HL7 message")
		}
	}
	logger.Info().Int("successful", sum.Successful).Int("failed", sum.Failed).Msg("batch finished")
	return sum
}

func (r *Runner) encodeOne(ctx context.Context, seq int, item json.RawMessage) (out Outcome) {
	out.Sequence = seq

	defer func() {
		if p := recover(); p != nil {
			out.Status = StatusError
			out.Message = ""
			out.Error = fmt.Sprintf("panic: %v", p)
			out.Timestamp = r.clock()
		}
	}()

	if err := ctx.Err(); err != nil {
		out.Status = StatusError
		out.Error = err.Error()
		out.Timestamp = r.clock()
		return out
	}

	msg, err := r.enc.EncodeJSON(item)
	out.Timestamp = r.clock()
	if err != nil {
		out.Status = StatusError
		out.Error = err.Error()
		return out
	}
	out.Status = StatusSuccess
	out.Message = msg
	return out
}
