package hl7v2

import "testing"

func TestSegment_String(t *testing.T) {
	tests := []struct {
		seg  Segment
		want string
	}{
		{NewSegment("NTE", "2", "", "Clinic Timezone: PST"), "NTE|2||Clinic Timezone: PST"},
		{NewSegment("MSH", EncodingCharacters, "APP"), `MSH|^~\&|APP`},
		{NewSegment("PID"), "PID"},
		{NewSegment("NTE", "1", "", "x", ""), "NTE|1||x|"},
	}
	for _, tt := range tests {
		if got := tt.seg.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestSegment_Field(t *testing.T) {
	seg := NewSegment("OBX", "1", "NM", "WT^Weight")
	if seg.Field(3) != "WT^Weight" {
		t.Errorf("Field(3) = %q", seg.Field(3))
	}
	if seg.Field(0) != "" || seg.Field(4) != "" {
		t.Error("expected empty string out of range")
	}
}

func TestMessage_EncodeAndGetSegments(t *testing.T) {
	msg := &Message{}
	msg.Add(NewSegment("OBR", "1"), NewSegment("OBX", "1"), NewSegment("OBX", "2"))

	if got := msg.Encode("\r"); got != "OBR|1\rOBX|1\rOBX|2" {
		t.Errorf("Encode = %q", got)
	}
	if n := len(msg.GetSegments("OBX")); n != 2 {
		t.Errorf("expected 2 OBX segments, got %d", n)
	}
	if len(msg.GetSegments("PID")) != 0 {
		t.Error("expected no PID segments")
	}
}

func TestBuild_SegmentsAreComplete(t *testing.T) {
	enc := testEncoder(t, testRows())
	msg, err := enc.Build(parseRecord(t, testRecordJSON), testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, seg := range msg.GetSegments("OBX") {
		if len(seg.Fields) != 11 || seg.Field(11) != "F" {
			t.Errorf("OBX %q does not have the full 11-field layout", seg.String())
		}
	}
	for _, seg := range msg.GetSegments("OBR") {
		if len(seg.Fields) != 7 {
			t.Errorf("OBR %q does not have 7 fields", seg.String())
		}
	}
	if msg.Segments[0].Name != "BHS" || msg.Segments[len(msg.Segments)-1].Name != "BTS" {
		t.Error("message must start with BHS and end with BTS")
	}
}

func TestMessage_ControlID(t *testing.T) {
	enc := testEncoder(t, testRows())
	msg, err := enc.Build(parseRecord(t, testRecordJSON), testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := msg.ControlID(); got != testNow.Format(TimestampLayout) {
		t.Errorf("ControlID() = %q", got)
	}
	if (&Message{}).ControlID() != "" {
		t.Error("expected empty control ID without MSH")
	}
}
