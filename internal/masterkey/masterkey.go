// Package masterkey encodes and decodes the teacher verification token.
// The wire shape is a plain JSON object so existing scanner apps keep
// working; tokens reference an OPEN session and are useless once that
// session closes.
package masterkey

import (
	"encoding/json"
	"time"

	"tagsci/internal/apperr"
	"tagsci/internal/model"
)

// TokenType is the discriminator value in every masterkey payload.
const TokenType = "MASTERKEY"

// Token is the masterkey payload scanned by the verifying teacher.
type Token struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	ClassID   string `json:"classId"`
	SubjectID string `json:"subjectId"`
	Date      string `json:"date"`
	Timestamp int64  `json:"timestamp"`
}

// Issue builds the payload for an open session. Callers are expected to
// have checked the session is OPEN; the verifier re-checks anyway.
func Issue(s model.AttendanceSession, now time.Time) Token {
	return Token{
		Type:      TokenType,
		SessionID: s.ID,
		ClassID:   s.ClassID,
		SubjectID: s.SubjectID,
		Date:      s.Date,
		Timestamp: now.UnixMilli(),
	}
}

// Encode serializes a token to its QR string form.
func (t Token) Encode() (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Parse decodes a raw scan into a Token. Any payload that is not
// well-formed JSON, is not typed MASTERKEY, or lacks a session reference
// fails with INVALID_MASTERKEY.
func Parse(raw string) (Token, error) {
	var t Token
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return Token{}, apperr.Wrap(apperr.InvalidMasterkey, "not a masterkey payload", err)
	}
	if t.Type != TokenType {
		return Token{}, apperr.New(apperr.InvalidMasterkey, "payload is not a masterkey")
	}
	if t.SessionID == "" {
		return Token{}, apperr.New(apperr.InvalidMasterkey, "masterkey has no session reference")
	}
	return t, nil
}
