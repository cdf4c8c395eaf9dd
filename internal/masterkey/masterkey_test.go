package masterkey

import (
	"testing"
	"time"

	"tagsci/internal/apperr"
	"tagsci/internal/model"
)

func TestIssueRoundTrip(t *testing.T) {
	session := model.AttendanceSession{
		ID:        "sess-1",
		ClassID:   "12 STEM - A",
		SubjectID: "MATH101",
		Date:      "2025-09-01",
	}
	issued := Issue(session, time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC))

	raw, err := issued.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	parsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed != issued {
		t.Errorf("round trip mismatch: got %+v, want %+v", parsed, issued)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", "1234567890"},
		{"wrong type", `{"type":"STUDENT","sessionId":"s1"}`},
		{"missing session", `{"type":"MASTERKEY","classId":"12 STEM - A"}`},
		{"empty", ""},
	}

	for _, tc := range cases {
		_, err := Parse(tc.raw)
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !apperr.Is(err, apperr.InvalidMasterkey) {
			t.Errorf("%s: expected INVALID_MASTERKEY, got %v", tc.name, err)
		}
	}
}
