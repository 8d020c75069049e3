// Package mapping compiles the tabular HL7 field-mapping configuration into an
// immutable schema consumed by the encoder.
package mapping

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ehr/hl7gen/internal/record"
)

// Column names of the mapping table.
const (
	ColSegment     = "SEGMENT"
	ColSegmentID   = "SEGMENT_ID"
	ColChildOBR    = "CHILD_OBR"
	ColAttribute   = "JSON_ATTRIBUTE"
	ColHL7Key      = "HL7_KEY"
	ColIdentifier  = "IDENTIFIER"
	ColDisplayName = "DISPLAY_NAME"
	ColDataType    = "DATA_TYPE"
	ColUnit        = "UNIT"
	ColSequence    = "SEQUENCE"
)

// RequiredColumns must be present in every mapping table header.
var RequiredColumns = []string{ColSegment, ColAttribute, ColIdentifier, ColDisplayName, ColDataType}

// DefaultSequence is assigned to rows without a usable SEQUENCE so they sort
// last.
const DefaultSequence = 999

// GroupSegment is the segment whose rows are filed under their child group.
const GroupSegment = "OBX"

// ConfigError reports a mapping table that cannot be compiled.
type ConfigError struct {
	Missing []string // required columns absent from the header
	Row     int      // 1-based data row, 0 when the error concerns the header
	Reason  string
}

func (e *ConfigError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("mapping: missing required column(s): %s", strings.Join(e.Missing, ", "))
	}
	if e.Row > 0 {
		return fmt.Sprintf("mapping: row %d: %s", e.Row, e.Reason)
	}
	return "mapping: " + e.Reason
}

// Row is one raw configuration row.
type Row struct {
	Segment     string
	SegmentID   string
	ChildOBR    string
	Attribute   string
	HL7Key      string
	Identifier  string
	DisplayName string
	DataType    string
	Unit        string
	Sequence    string
}

// FieldMapping binds a normalized attribute key to its HL7 rendering.
type FieldMapping struct {
	Identifier  string `json:"identifier"`
	DisplayName string `json:"display_name"`
	DataType    string `json:"data_type"`
	Unit        string `json:"unit,omitempty"`
	Sequence    int    `json:"sequence"`
	Attribute   string `json:"json_attribute"`
	ChildGroup  string `json:"child_obr,omitempty"`
	SegmentID   string `json:"segment_id,omitempty"`
	HL7Key      string `json:"hl7_key,omitempty"`
}

// SegmentMapping holds the fields of one segment in sequence order, indexed by
// normalized attribute key.
type SegmentMapping struct {
	fields []FieldMapping
	index  map[string]int
}

// Fields returns the fields ordered by sequence.
func (s *SegmentMapping) Fields() []FieldMapping {
	if s == nil {
		return nil
	}
	out := make([]FieldMapping, len(s.fields))
	copy(out, s.fields)
	return out
}

// Lookup returns the field configured for attribute.
func (s *SegmentMapping) Lookup(attribute string) (FieldMapping, bool) {
	if s == nil {
		return FieldMapping{}, false
	}
	i, ok := s.index[record.NormalizeKey(attribute)]
	if !ok {
		return FieldMapping{}, false
	}
	return s.fields[i], true
}

// Len returns the number of fields.
func (s *SegmentMapping) Len() int {
	if s == nil {
		return 0
	}
	return len(s.fields)
}

// CompiledConfig is the immutable result of Compile. It is safe for
// concurrent use.
type CompiledConfig struct {
	segmentOrder []string
	segments     map[string]*SegmentMapping
	groupOrder   []string
	groups       map[string][]FieldMapping
}

// SegmentOrder returns segment names in first-seen order.
func (c *CompiledConfig) SegmentOrder() []string {
	return append([]string(nil), c.segmentOrder...)
}

// Segment returns the mapping for a segment name, or nil.
func (c *CompiledConfig) Segment(name string) *SegmentMapping {
	return c.segments[strings.ToUpper(name)]
}

// GroupOrder returns child group tags in first-seen order.
func (c *CompiledConfig) GroupOrder() []string {
	return append([]string(nil), c.groupOrder...)
}

// Group returns the fields of a child group ordered by sequence.
func (c *CompiledConfig) Group(tag string) []FieldMapping {
	fields := c.groups[record.NormalizeKey(tag)]
	return append([]FieldMapping(nil), fields...)
}

// Compile builds a CompiledConfig from rows in table order.
func Compile(rows []Row) (*CompiledConfig, error) {
	cfg := &CompiledConfig{
		segments: make(map[string]*SegmentMapping),
		groups:   make(map[string][]FieldMapping),
	}

	for i, row := range rows {
		segment := strings.ToUpper(strings.TrimSpace(row.Segment))
		if segment == "" {
			return nil, &ConfigError{Row: i + 1, Reason: "empty " + ColSegment}
		}
		attr := record.NormalizeKey(strings.TrimSpace(row.Attribute))
		if attr == "" {
			return nil, &ConfigError{Row: i + 1, Reason: "empty " + ColAttribute}
		}

		field := FieldMapping{
			Identifier:  strings.TrimSpace(row.Identifier),
			DisplayName: strings.TrimSpace(row.DisplayName),
			DataType:    strings.TrimSpace(row.DataType),
			Unit:        strings.TrimSpace(row.Unit),
			Sequence:    parseSequence(row.Sequence),
			Attribute:   attr,
			ChildGroup:  record.NormalizeKey(strings.TrimSpace(row.ChildOBR)),
			SegmentID:   strings.TrimSpace(row.SegmentID),
			HL7Key:      strings.TrimSpace(row.HL7Key),
		}

		if _, seen := cfg.segments[segment]; !seen {
			cfg.segmentOrder = append(cfg.segmentOrder, segment)
			cfg.segments[segment] = &SegmentMapping{index: make(map[string]int)}
		}

		if segment == GroupSegment && field.ChildGroup != "" {
			if _, seen := cfg.groups[field.ChildGroup]; !seen {
				cfg.groupOrder = append(cfg.groupOrder, field.ChildGroup)
			}
			cfg.groups[field.ChildGroup] = append(cfg.groups[field.ChildGroup], field)
			continue
		}

		sm := cfg.segments[segment]
		if j, dup := sm.index[attr]; dup {
			sm.fields[j] = field
			continue
		}
		sm.index[attr] = len(sm.fields)
		sm.fields = append(sm.fields, field)
	}

	for _, sm := range cfg.segments {
		sortFields(sm.fields)
		for j, f := range sm.fields {
			sm.index[f.Attribute] = j
		}
	}
	for _, fields := range cfg.groups {
		sortFields(fields)
	}

	return cfg, nil
}

func sortFields(fields []FieldMapping) {
	sort.SliceStable(fields, func(i, j int) bool {
		return fields[i].Sequence < fields[j].Sequence
	})
}

func parseSequence(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return DefaultSequence
	}
	return n
}
