package hl7v2

import (
	"strconv"
	"time"

	"github.com/ehr/hl7gen/internal/mapping"
	"github.com/ehr/hl7gen/internal/record"
)

// assembly carries the message-global OBR counter through one encoding call.
type assembly struct {
	parent int // last OBR set ID handed out
}

// buildVitalsPreamble renders the fixed vitals OBR, the two notes and the
// device type observation.
func (e *Encoder) buildVitalsPreamble(root *record.Map) []Segment {
	treatmentID := record.ResolveString(root, e.patientPath("TREATMENT_ID"), "")

	segs := []Segment{
		NewSegment("OBR", "1", "", "", components("VITAL_SIGNS", "Vitals Panel", "CLINIC_APP"), "", "", e.opts.GroupBase.Format(TimestampLayout)),
		NewSegment("NTE", "1", "", "Treatment ID: "+escapeHL7(treatmentID), ""),
		NewSegment("NTE", "2", "", "Clinic Timezone: "+e.opts.ClinicTimezone),
	}
	if device, ok := record.ResolveScalar(root, e.patientPath("DEVICE_TYPE")); ok {
		segs = append(segs, observation(1, "ST", "DEVICE_TYPE", "Device Type", 1, escapeHL7(device), ""))
	}
	return segs
}

// buildGroup renders one configured observation group into its own buffer.
// The buffer and the advanced counter are committed to st only once the
// whole group has been rendered.
func (e *Encoder) buildGroup(st *assembly, root *record.Map, tag string) []Segment {
	g := &groupWriter{
		fields: e.cfg.Group(tag),
		base:   e.opts.GroupBase,
		parent: st.parent,
	}
	g.identifier, g.display = tag, tag
	if f, ok := e.cfg.Segment("OBR").Lookup(tag); ok {
		g.identifier, g.display = f.Identifier, f.DisplayName
	}

	if records := recordsOf(root, tag); len(records) > 0 {
		for _, rec := range records {
			g.expandRecord(rec, false)
		}
	} else {
		g.openParent()
		for _, f := range g.fields {
			v, ok := record.Resolve(root, f.Attribute)
			if !ok {
				v, ok = record.Resolve(root, tag+"."+f.Attribute)
			}
			if ok {
				g.emit(f, v, true)
			}
		}
	}

	st.parent = g.parent
	return g.segments
}

// recordsOf returns the map elements of the list bound to path, if any.
func recordsOf(root *record.Map, path string) []*record.Map {
	v, ok := record.Resolve(root, path)
	if !ok {
		return nil
	}
	list, ok := v.(record.List)
	if !ok {
		return nil
	}
	var out []*record.Map
	for _, item := range list {
		if m, ok := item.(*record.Map); ok {
			out = append(out, m)
		}
	}
	return out
}

// groupWriter accumulates the OBR/OBX lines of one group.
type groupWriter struct {
	fields     []mapping.FieldMapping
	identifier string
	display    string
	base       time.Time

	parent   int  // OBR set ID of the current parent
	child    int  // OBX set ID of the next child under the current parent
	hasChild bool // the current parent already has children
	open     bool // a parent has been emitted for this group

	segments []Segment
}

// openParent allocates the next OBR set ID and resets the child counter.
func (g *groupWriter) openParent() {
	g.parent++
	g.child = 1
	g.hasChild = false
	g.open = true

	ts := g.base.Add(time.Duration(g.parent) * time.Second).Format(TimestampLayout)
	g.segments = append(g.segments,
		NewSegment("OBR", strconv.Itoa(g.parent), "", "", components(g.identifier, g.display), "", "", ts))
}

func (g *groupWriter) addChild(f mapping.FieldMapping, value string) {
	g.segments = append(g.segments,
		observation(g.child, f.DataType, f.Identifier, f.DisplayName, g.parent, escapeHL7(value), f.Unit))
	g.child++
	g.hasChild = true
}

// emit renders a resolved value. Records inside a list are expanded only when
// expand is set, which keeps expansion to the fixed two levels.
func (g *groupWriter) emit(f mapping.FieldMapping, v record.Value, expand bool) {
	switch t := v.(type) {
	case record.Scalar:
		g.addChild(f, string(t))
	case record.List:
		first := true
		for _, item := range t {
			switch it := item.(type) {
			case record.Scalar:
				g.addChild(f, string(it))
			case *record.Map:
				if expand {
					g.expandRecord(it, first && !g.hasChild)
					first = false
				}
			}
		}
	}
}

// expandRecord matches the record's attributes against the group fields
// under a new parent. reuse keeps the current parent instead; it is only set
// for the first record of a list reached through a child field.
func (g *groupWriter) expandRecord(rec *record.Map, reuse bool) {
	if !g.open || !reuse {
		g.openParent()
	}
	for _, f := range g.fields {
		if v, ok := matchAttribute(rec, f.Attribute); ok {
			g.emit(f, v, false)
		}
	}
}

// matchAttribute looks attr up in rec, then in each nested sub-record of rec.
func matchAttribute(rec *record.Map, attr string) (record.Value, bool) {
	if v, ok := record.Resolve(rec, attr); ok {
		return v, true
	}
	for _, key := range rec.Keys() {
		v, _ := rec.Get(key)
		if sub, ok := v.(*record.Map); ok {
			if member, ok := sub.Get(attr); ok {
				return member, true
			}
		}
	}
	return nil, false
}

// observation renders an OBX line:
// OBX|setID|type|identifier^display|parentID|value|unit|||||F
func observation(setID int, dataType, identifier, display string, parentID int, value, unit string) Segment {
	return NewSegment("OBX",
		strconv.Itoa(setID),
		dataType,
		components(identifier, display),
		strconv.Itoa(parentID),
		value,
		unit,
		"", "", "", "",
		"F",
	)
}
