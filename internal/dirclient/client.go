// Package dirclient is the scanner-side HTTP client for the directory
// server. Error responses carry the taxonomy code, which the client
// rebuilds so callers can branch on it (the sync engine depends on
// DUPLICATE_ENTRY surviving the wire).
package dirclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"tagsci/internal/apperr"
	"tagsci/internal/model"
	"tagsci/internal/pool"
	"tagsci/internal/session"
)

// Client calls the directory REST API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// New creates a client authenticated with the given bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// HealthURL is the endpoint the connectivity probe polls.
func (c *Client) HealthURL() string {
	return c.BaseURL + "/healthz"
}

// FindStudentByLRN looks a student up by reference number. A 404 maps
// to (nil, nil) so callers treat it as a normal miss.
func (c *Client) FindStudentByLRN(ctx context.Context, lrn string) (*model.Student, error) {
	var student model.Student
	err := c.do(ctx, http.MethodGet, "/v1/students/by-lrn?lrn="+lrn, nil, &student)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &student, nil
}

// CreateStudent registers (or re-registers) a student remotely.
func (c *Client) CreateStudent(ctx context.Context, s model.Student) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/students", s, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// ListStudents fetches the roster, used to refresh the offline cache.
func (c *Client) ListStudents(ctx context.Context) ([]model.Student, error) {
	var out struct {
		Students []model.Student `json:"students"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/students", nil, &out); err != nil {
		return nil, err
	}
	return out.Students, nil
}

// InsertLegacyAttendance submits one synced capture.
func (c *Client) InsertLegacyAttendance(ctx context.Context, a model.LegacyAttendance) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/attendance", a, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// AddToPool forwards an online scan to the daily pool.
func (c *Client) AddToPool(ctx context.Context, token string) (*pool.ScanResult, error) {
	var out pool.ScanResult
	body := map[string]string{"token": token}
	if err := c.do(ctx, http.MethodPost, "/v1/pool/scans", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CloseSession requests a manual close of an open session.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+sessionID+"/close", struct{}{}, nil)
}

// VerifyMasterkey forwards a scanned masterkey for session closure.
func (c *Client) VerifyMasterkey(ctx context.Context, raw string) (*session.VerifyResult, error) {
	var out session.VerifyResult
	body := map[string]string{"masterkey": raw}
	if err := c.do(ctx, http.MethodPost, "/v1/sessions/verify", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.SyncTransient, "directory unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode directory response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)
	var payload struct {
		Error string      `json:"error"`
		Code  apperr.Code `json:"code"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Code != "" {
		return apperr.New(payload.Code, payload.Error)
	}
	return fmt.Errorf("directory error %s: %s", resp.Status, string(raw))
}
