package hl7v2

import (
	"errors"
	"fmt"
	"time"

	"github.com/ehr/hl7gen/internal/mapping"
	"github.com/ehr/hl7gen/internal/record"
)

// TimestampLayout is the compact HL7 timestamp format (YYYYMMDDHHmmss).
const TimestampLayout = "20060102150405"

// DefaultTrailerCount is the literal BTS count used when none is configured.
const DefaultTrailerCount = 100

// ErrNilRecord is returned when Encode is called without a record.
var ErrNilRecord = errors.New("hl7v2: record is required")

// Options controls the literal parts of the encoded message.
type Options struct {
	SendingApp        string
	SendingFacility   string
	ReceivingApp      string
	ReceivingFacility string
	MessageType       string
	ProcessingID      string
	Version           string

	// PatientPath is the record path holding patient demographics.
	PatientPath string
	// IdentifierAuthorities maps a normalized PID attribute to the assigning
	// authority rendered as PID-3 component 4.
	IdentifierAuthorities map[string]string
	// MinIdentifierFields is the number of identifier fields PID is padded to.
	MinIdentifierFields int

	ClinicFallback string
	FillerID       string
	ClinicTimezone string

	// GroupBase is the synthetic timestamp of the fixed vitals OBR. Each
	// configured group OBR is stamped GroupBase plus its set ID in seconds.
	GroupBase time.Time

	// TrailerCount is the literal batch trailer count; nil selects
	// DefaultTrailerCount. When CountTrailer is set the number of segments
	// between BHS and BTS is used instead.
	TrailerCount *int
	CountTrailer bool

	SegmentSeparator string

	// Clock supplies "now" for Encode. EncodeAt bypasses it.
	Clock func() time.Time
}

// DefaultOptions returns the options producing the reference layout.
func DefaultOptions() Options {
	return Options{
		SendingApp:        "SENDING_APP",
		SendingFacility:   "SENDING_FACILITY",
		ReceivingApp:      "RECEIVING_APP",
		ReceivingFacility: "RECEIVING_FACILITY",
		MessageType:       "ORU^R01",
		ProcessingID:      "P",
		Version:           "2.5",
		PatientPath:       "PATIENT_INFO",
		IdentifierAuthorities: map[string]string{
			"ERP_PATIENT_ID":    "Baxter_Patient_ID",
			"BAXTER_PATIENT_ID": "Baxter_Patient_ID",
			"CLINIC_PATIENT_ID": "Clinic_Patient_ID",
		},
		MinIdentifierFields: 4,
		ClinicFallback:      "XYZClinic",
		FillerID:            "FILLER_ID",
		ClinicTimezone:      "PST",
		GroupBase:           time.Date(2025, time.October, 15, 12, 34, 23, 0, time.UTC),
		TrailerCount:        TrailerCount(DefaultTrailerCount),
		SegmentSeparator:    "\n",
		Clock:               func() time.Time { return time.Now().UTC() },
	}
}

// TrailerCount returns a pointer for Options.TrailerCount.
func TrailerCount(n int) *int {
	return &n
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SendingApp == "" {
		o.SendingApp = d.SendingApp
	}
	if o.SendingFacility == "" {
		o.SendingFacility = d.SendingFacility
	}
	if o.ReceivingApp == "" {
		o.ReceivingApp = d.ReceivingApp
	}
	if o.ReceivingFacility == "" {
		o.ReceivingFacility = d.ReceivingFacility
	}
	if o.MessageType == "" {
		o.MessageType = d.MessageType
	}
	if o.ProcessingID == "" {
		o.ProcessingID = d.ProcessingID
	}
	if o.Version == "" {
		o.Version = d.Version
	}
	if o.PatientPath == "" {
		o.PatientPath = d.PatientPath
	}
	if o.IdentifierAuthorities == nil {
		o.IdentifierAuthorities = d.IdentifierAuthorities
	} else {
		normalized := make(map[string]string, len(o.IdentifierAuthorities))
		for attr, authority := range o.IdentifierAuthorities {
			normalized[record.NormalizeKey(attr)] = authority
		}
		o.IdentifierAuthorities = normalized
	}
	if o.MinIdentifierFields <= 0 {
		o.MinIdentifierFields = d.MinIdentifierFields
	}
	if o.ClinicFallback == "" {
		o.ClinicFallback = d.ClinicFallback
	}
	if o.FillerID == "" {
		o.FillerID = d.FillerID
	}
	if o.ClinicTimezone == "" {
		o.ClinicTimezone = d.ClinicTimezone
	}
	if o.GroupBase.IsZero() {
		o.GroupBase = d.GroupBase
	}
	if o.TrailerCount == nil {
		o.TrailerCount = d.TrailerCount
	}
	if o.SegmentSeparator == "" {
		o.SegmentSeparator = d.SegmentSeparator
	}
	if o.Clock == nil {
		o.Clock = d.Clock
	}
	return o
}

// Encoder turns normalized clinical records into ORU^R01 messages according
// to a compiled mapping. An Encoder is immutable and safe for concurrent use.
type Encoder struct {
	cfg  *mapping.CompiledConfig
	opts Options
}

// NewEncoder returns an encoder for cfg. Zero option fields take their
// defaults.
func NewEncoder(cfg *mapping.CompiledConfig, opts Options) (*Encoder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("hl7v2: compiled mapping is required")
	}
	return &Encoder{cfg: cfg, opts: opts.withDefaults()}, nil
}

// NewEncoderFromRows compiles rows and returns an encoder. Compilation
// failures are returned as *mapping.ConfigError.
func NewEncoderFromRows(rows []mapping.Row, opts Options) (*Encoder, error) {
	cfg, err := mapping.Compile(rows)
	if err != nil {
		return nil, err
	}
	return NewEncoder(cfg, opts)
}

// Config returns the compiled mapping.
func (e *Encoder) Config() *mapping.CompiledConfig {
	return e.cfg
}

// Encode renders rec using the encoder clock for "now".
func (e *Encoder) Encode(rec *record.Map) (string, error) {
	return e.EncodeAt(rec, e.opts.Clock())
}

// Message builds the segments for rec using the encoder clock for "now".
func (e *Encoder) Message(rec *record.Map) (*Message, error) {
	return e.Build(rec, e.opts.Clock())
}

// Render joins msg with the configured segment separator.
func (e *Encoder) Render(msg *Message) string {
	return msg.Encode(e.opts.SegmentSeparator)
}

// EncodeAt renders rec with a caller-supplied "now". The same record, mapping
// and time always produce byte-identical output.
func (e *Encoder) EncodeAt(rec *record.Map, now time.Time) (string, error) {
	msg, err := e.Build(rec, now)
	if err != nil {
		return "", err
	}
	return e.Render(msg), nil
}

// EncodeJSON parses a JSON object and renders it.
func (e *Encoder) EncodeJSON(data []byte) (string, error) {
	rec, err := record.ParseJSON(data)
	if err != nil {
		return "", err
	}
	return e.Encode(rec)
}

// Build assembles the message segments for rec. Keys of rec need not be
// normalized; Build normalizes a copy.
func (e *Encoder) Build(rec *record.Map, now time.Time) (*Message, error) {
	if rec == nil {
		return nil, ErrNilRecord
	}

	root := record.NormalizeMap(rec)
	ts := now.Format(TimestampLayout)
	msg := &Message{}

	for _, kind := range FixedSegmentOrder {
		msg.Add(e.buildFixed(kind, root, ts))
	}

	st := &assembly{parent: 1}
	msg.Add(e.buildVitalsPreamble(root)...)
	for _, tag := range e.cfg.GroupOrder() {
		msg.Add(e.buildGroup(st, root, tag)...)
	}

	count := *e.opts.TrailerCount
	if e.opts.CountTrailer {
		count = len(msg.Segments) - 1
	}
	msg.Add(NewSegment("BTS", "1", "final segment", fmt.Sprintf("%d", count)))

	return msg, nil
}
