// Package identity resolves raw scanned tokens to canonical students.
package identity

import (
	"context"
	"encoding/json"

	"tagsci/internal/apperr"
	"tagsci/internal/model"
)

// Lookup is the directory slice the resolver needs. Both directory
// backends and the device-side HTTP client satisfy it.
type Lookup interface {
	FindStudentByToken(ctx context.Context, token string) (*model.Student, error)
	FindStudentByLRN(ctx context.Context, lrn string) (*model.Student, error)
}

// Resolver runs the token resolution cascade. The cascade is total: a
// malformed structured payload falls through to the next strategy rather
// than failing.
type Resolver struct {
	dir Lookup
}

// NewResolver creates a resolver over a directory lookup.
func NewResolver(dir Lookup) *Resolver {
	return &Resolver{dir: dir}
}

// tokenPayload is the structured identity token shape. Only lrnNumber is
// required; registration writes the full set.
type tokenPayload struct {
	FullName   string `json:"fullName"`
	GradeLevel string `json:"gradeLevel"`
	Strand     string `json:"strand"`
	Section    string `json:"section"`
	LRN        string `json:"lrnNumber"`
}

// Resolve attempts, in order: exact match on the precomputed token
// payload, LRN extracted from a JSON payload, then the raw token as a
// literal LRN. The first hit wins; a full miss is IDENTITY_NOT_FOUND.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*model.Student, error) {
	student, err := r.dir.FindStudentByToken(ctx, raw)
	if err != nil {
		return nil, err
	}
	if student != nil {
		return student, nil
	}

	// Structured payloads resolve only through their LRN field; the
	// literal-LRN fallback applies to tokens that are not JSON at all.
	lrn := raw
	if extracted, isJSON := extractLRN(raw); isJSON {
		if extracted == "" {
			return nil, apperr.New(apperr.IdentityNotFound, "student not found in the database")
		}
		lrn = extracted
	}
	student, err = r.dir.FindStudentByLRN(ctx, lrn)
	if err != nil {
		return nil, err
	}
	if student != nil {
		return student, nil
	}
	return nil, apperr.New(apperr.IdentityNotFound, "student not found in the database")
}

// extractLRN parses raw as a structured payload. The second return is
// false when raw is not valid JSON.
func extractLRN(raw string) (lrn string, isJSON bool) {
	var p tokenPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return "", false
	}
	return p.LRN, true
}
