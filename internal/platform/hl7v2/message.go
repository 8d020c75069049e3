package hl7v2

import (
	"fmt"
	"strings"
)

// HL7 v2 delimiters used by the encoder.
const (
	FieldSeparator     = "|"
	ComponentSeparator = "^"
	EncodingCharacters = `^~\&`
)

// Message is an encoded ORU^R01 message: the ordered segment lines between
// and including the batch header and trailer.
type Message struct {
	Segments []Segment
}

// Add appends segments to the message.
func (m *Message) Add(segs ...Segment) {
	m.Segments = append(m.Segments, segs...)
}

// Encode joins the rendered segments with sep.
func (m *Message) Encode(sep string) string {
	lines := make([]string, len(m.Segments))
	for i, seg := range m.Segments {
		lines[i] = seg.String()
	}
	return strings.Join(lines, sep)
}

// GetSegments returns all segments with the given name.
func (m *Message) GetSegments(name string) []Segment {
	var result []Segment
	for _, seg := range m.Segments {
		if seg.Name == name {
			result = append(result, seg)
		}
	}
	return result
}

// ControlID returns MSH-10 of the message, or "" without an MSH segment.
func (m *Message) ControlID() string {
	msh := m.GetSegments("MSH")
	if len(msh) == 0 {
		return ""
	}
	return msh[0].Field(9)
}

// Segment is one fully assembled message line. Fields[0] is field 1; for MSH
// and BHS field 1 is the encoding characters because the field separator is
// implied by the line layout.
type Segment struct {
	Name   string
	Fields []string
}

// NewSegment builds a segment from its name and fields.
func NewSegment(name string, fields ...string) Segment {
	return Segment{Name: name, Fields: fields}
}

// String renders the segment as a pipe-delimited line.
func (s Segment) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	for _, f := range s.Fields {
		b.WriteString(FieldSeparator)
		b.WriteString(f)
	}
	return b.String()
}

// Field returns field n (1-based), or "" when out of range.
func (s Segment) Field(n int) string {
	if n < 1 || n > len(s.Fields) {
		return ""
	}
	return s.Fields[n-1]
}

// components joins parts with the component separator.
func components(parts ...string) string {
	return strings.Join(parts, ComponentSeparator)
}

// SegmentKind is the closed set of fixed-layout segments rendered before the
// configured observation groups.
type SegmentKind int

const (
	KindBatchHeader SegmentKind = iota + 1 // BHS
	KindHeader                             // MSH
	KindPatientID                          // PID
	KindVisit                              // PV1
	KindOrderControl                       // ORC
)

// FixedSegmentOrder is the emission order of the fixed segments.
var FixedSegmentOrder = []SegmentKind{KindBatchHeader, KindHeader, KindPatientID, KindVisit, KindOrderControl}

// String returns the 3-letter segment tag.
func (k SegmentKind) String() string {
	switch k {
	case KindBatchHeader:
		return "BHS"
	case KindHeader:
		return "MSH"
	case KindPatientID:
		return "PID"
	case KindVisit:
		return "PV1"
	case KindOrderControl:
		return "ORC"
	default:
		return fmt.Sprintf("SegmentKind(%d)", int(k))
	}
}

// escapeHL7 escapes HL7 special characters in a string.
// The HL7 escape sequences are:
//
//	\F\ = |  (field separator)
//	\S\ = ^  (component separator)
//	\R\ = ~  (repetition separator)
//	\E\ = \  (escape character)
//	\T\ = &  (subcomponent separator)
func escapeHL7(s string) string {
	// Escape backslash first to avoid double-escaping
	s = strings.ReplaceAll(s, "\\", "\\E\\")
	s = strings.ReplaceAll(s, "|", "\\F\\")
	s = strings.ReplaceAll(s, "^", "\\S\\")
	s = strings.ReplaceAll(s, "~", "\\R\\")
	s = strings.ReplaceAll(s, "&", "\\T\\")
	return s
}
