package hl7v2

import (
	"github.com/ehr/hl7gen/internal/record"
)

// buildFixed renders one fixed-layout segment. ts is the message timestamp
// captured once per encoding.
func (e *Encoder) buildFixed(kind SegmentKind, root *record.Map, ts string) Segment {
	switch kind {
	case KindBatchHeader:
		return e.buildBHS(root, ts)
	case KindHeader:
		return e.buildMSH(ts)
	case KindPatientID:
		return e.buildPID(root)
	case KindVisit:
		return e.buildPV1(root)
	case KindOrderControl:
		return e.buildORC(root, ts)
	default:
		panic("hl7v2: unknown segment kind " + kind.String())
	}
}

// buildBHS constructs the batch header from the BATCH block of the record.
func (e *Encoder) buildBHS(root *record.Map, ts string) Segment {
	batchType := record.ResolveString(root, "BATCH.TYPE", "Normal")
	batchID := record.ResolveString(root, "BATCH.ID", "")

	return NewSegment("BHS",
		EncodingCharacters,
		e.opts.SendingApp, e.opts.SendingFacility,
		e.opts.ReceivingApp, e.opts.ReceivingFacility,
		ts,
		"",
		"BatchType-"+escapeHL7(batchType),
		"",
		escapeHL7(batchID),
	)
}

// buildMSH constructs the message header. The control ID is the message
// timestamp.
func (e *Encoder) buildMSH(ts string) Segment {
	return NewSegment("MSH",
		EncodingCharacters,
		e.opts.SendingApp, e.opts.SendingFacility,
		e.opts.ReceivingApp, e.opts.ReceivingFacility,
		ts,
		"",
		e.opts.MessageType,
		ts,
		e.opts.ProcessingID,
		e.opts.Version,
	)
}

// buildPID constructs the patient identification segment.
//
// Identifier fields configured for PID are emitted in sequence order as
// value^^^Authority, padded to MinIdentifierFields, followed by the
// last^first^middle name.
func (e *Encoder) buildPID(root *record.Map) Segment {
	fields := []string{"1"}

	var ids []string
	for _, f := range e.cfg.Segment("PID").Fields() {
		authority, isID := e.opts.IdentifierAuthorities[f.Attribute]
		if !isID {
			continue
		}
		value, ok := record.ResolveScalar(root, e.patientPath(f.Attribute))
		if !ok {
			continue
		}
		ids = append(ids, components(escapeHL7(value), "", "", authority))
	}
	fields = append(fields, ids...)
	for i := len(ids); i < e.opts.MinIdentifierFields; i++ {
		fields = append(fields, "")
	}

	first, hasFirst := record.ResolveScalar(root, e.patientPath("FIRST_NAME"))
	last, hasLast := record.ResolveScalar(root, e.patientPath("LAST_NAME"))
	middle, _ := record.ResolveScalar(root, e.patientPath("MIDDLE_NAME"))
	name := ""
	if hasFirst || hasLast {
		name = components(escapeHL7(last), escapeHL7(first), escapeHL7(middle))
	}
	fields = append(fields, name)

	return NewSegment("PID", fields...)
}

// buildPV1 constructs the patient visit segment; the clinic name falls back to
// a literal when absent.
func (e *Encoder) buildPV1(root *record.Map) Segment {
	clinic := record.ResolveString(root, e.patientPath("CLINIC_NAME"), e.opts.ClinicFallback)
	return NewSegment("PV1", "1", "o", components("", "", "", escapeHL7(clinic)))
}

// buildORC constructs the common order segment.
func (e *Encoder) buildORC(root *record.Map, ts string) Segment {
	treatmentID := record.ResolveString(root, e.patientPath("TREATMENT_ID"), "")
	return NewSegment("ORC",
		"RE",
		escapeHL7(treatmentID),
		e.opts.FillerID,
		"", "", "", "", "", "",
		ts,
	)
}

func (e *Encoder) patientPath(attr string) string {
	return e.opts.PatientPath + "." + attr
}
