package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/candorworks/exam-proctor/internal/model"
)

// Backend errors for shortcode redemption.
var (
	ErrNotFound       = errors.New("shortcode not found")
	ErrExpired        = errors.New("shortcode expired")
	ErrAlreadyUsed    = errors.New("shortcode already used")
	ErrInvalidPayload = errors.New("backend returned an invalid test payload")
)

// StatusError is a non-2xx backend response not covered by a sentinel.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: backend status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: backend status %d: %s", e.Op, e.Status, e.Body)
}

// Client talks to the test delivery and submission backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client. A nil httpClient gets a default with timeout.
func NewClient(baseURL string, httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

type startResponse struct {
	Data *struct {
		CandidateName   string `json:"candidate_name"`
		CandidateEmail  string `json:"candidate_email"`
		DurationMinutes int    `json:"duration_minutes"`
		Questions       []struct {
			ID          json.RawMessage `json:"id"`
			Text        string          `json:"text"`
			OptionsJSON json.RawMessage `json:"options_json"`
		} `json:"questions"`
	} `json:"data"`
}

// RedeemShortcode exchanges a shortcode for the candidate's test content.
// The upper-cased shortcode becomes the attempt id.
func (c *Client) RedeemShortcode(ctx context.Context, code string) (*model.TestData, error) {
	attemptID := strings.ToUpper(code)
	endpoint := fmt.Sprintf("%s/tests/test/start/%s/", c.baseURL, url.PathEscape(attemptID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("redeem shortcode: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, ErrNotFound
	case http.StatusGone:
		return nil, ErrExpired
	case http.StatusConflict:
		return nil, ErrAlreadyUsed
	}
	if resp.StatusCode >= 300 {
		return nil, statusError("redeem shortcode", resp)
	}

	var payload startResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if payload.Data == nil {
		return nil, ErrInvalidPayload
	}

	td := &model.TestData{
		AttemptID: attemptID,
		Candidate: model.Candidate{
			Name:  payload.Data.CandidateName,
			Email: payload.Data.CandidateEmail,
		},
		DurationMinutes: payload.Data.DurationMinutes,
		Questions:       make([]model.Question, 0, len(payload.Data.Questions)),
	}
	for _, q := range payload.Data.Questions {
		td.Questions = append(td.Questions, model.Question{
			ID:      rawID(q.ID),
			Text:    q.Text,
			Options: model.ParseOptions(q.OptionsJSON),
		})
	}
	if !td.Valid() {
		return nil, ErrInvalidPayload
	}
	return td, nil
}

// SubmitAttempt posts the answered questions of an attempt. Any non-2xx
// response is an error.
func (c *Client) SubmitAttempt(ctx context.Context, attemptID string, answers []model.AnswerEntry) error {
	if answers == nil {
		answers = []model.AnswerEntry{}
	}
	body, err := json.Marshal(model.SubmitAttemptRequest{Answers: answers})
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}

	endpoint := fmt.Sprintf("%s/tests/test/submit/%s/", c.baseURL, url.PathEscape(attemptID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("submit attempt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError("submit attempt", resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// rawID accepts string or numeric question ids.
func rawID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
