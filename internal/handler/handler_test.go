package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candorworks/exam-proctor/internal/delivery"
	"github.com/candorworks/exam-proctor/internal/model"
	"github.com/candorworks/exam-proctor/internal/repository"
	"github.com/candorworks/exam-proctor/internal/service"
	"github.com/candorworks/exam-proctor/internal/session"
	"github.com/candorworks/exam-proctor/internal/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

type fakeBackend struct {
	mu        sync.Mutex
	data      *model.TestData
	redeemErr error
	submitErr error
	submitted map[string][]model.AnswerEntry
}

func (b *fakeBackend) RedeemShortcode(_ context.Context, code string) (*model.TestData, error) {
	if b.redeemErr != nil {
		return nil, b.redeemErr
	}
	d := *b.data
	d.AttemptID = code
	return &d, nil
}

func (b *fakeBackend) SubmitAttempt(_ context.Context, attemptID string, answers []model.AnswerEntry) error {
	if b.submitErr != nil {
		return b.submitErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.submitted == nil {
		b.submitted = map[string][]model.AnswerEntry{}
	}
	b.submitted[attemptID] = answers
	return nil
}

func (b *fakeBackend) Submitted(attemptID string) ([]model.AnswerEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.submitted[attemptID]
	return a, ok
}

type testApp struct {
	mr      *miniredis.Miniredis
	backend *fakeBackend
	router  *gin.Engine
	scratch *repository.ScratchRepository
	audit   *service.AuditService
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	backend := &fakeBackend{data: &model.TestData{
		Candidate: model.Candidate{Name: "Ada", Email: "ada@example.com"},
		Questions: []model.Question{
			{ID: "q1", Text: "one", Options: []string{"a", "b"}},
			{ID: "q2", Text: "two", Options: []string{"a", "b"}},
			{ID: "q3", Text: "three", Options: []string{"a", "b"}},
		},
		DurationMinutes: 10,
	}}

	log := zerolog.Nop()
	cache := repository.NewAttemptCacheRepository(rdb)
	scratch := repository.NewScratchRepository(rdb, time.Hour)
	tokens := service.NewAttemptTokenService("secret")
	attempts := service.NewAttemptService(backend, cache, tokens, time.Minute, log)
	submissions := service.NewSubmissionService(backend, cache, rdb, time.Hour, log)
	audit := service.NewAuditService(rdb, nil, log)

	r := gin.New()
	r.POST("/redeem", NewCandidateHandler(attempts, log).Redeem)
	r.GET("/attempts/:attempt_id/stream", NewWSHandler(attempts, submissions, audit, cache, scratch, log, nil).AttemptStream)
	r.GET("/ops/attempts/:attempt_id/monitor", NewMonitorHandler(rdb, audit, log).MonitorAttemptSSE)

	return &testApp{mr: mr, backend: backend, router: r, scratch: scratch, audit: audit}
}

func (a *testApp) redeem(t *testing.T, code string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"shortcode": code})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/redeem", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	a.router.ServeHTTP(w, req)
	return w
}

func TestRedeemHandler(t *testing.T) {
	app := newTestApp(t)

	w := app.redeem(t, "ab12cd34")
	require.Equal(t, http.StatusOK, w.Code)

	var env struct {
		Data model.RedeemResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "AB12CD34", env.Data.AttemptID)
	assert.NotEmpty(t, env.Data.Token)
	assert.Len(t, env.Data.TestData.Questions, 3)
}

func TestRedeemHandlerValidation(t *testing.T) {
	app := newTestApp(t)

	w := app.redeem(t, "short")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_SHORTCODE")
	assert.Contains(t, w.Body.String(), "shortcode must be 8 letters or digits")
}

func TestRedeemHandlerBackendErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{delivery.ErrNotFound, http.StatusNotFound, "SHORTCODE_NOT_FOUND"},
		{delivery.ErrExpired, http.StatusGone, "SHORTCODE_EXPIRED"},
		{delivery.ErrAlreadyUsed, http.StatusConflict, "SHORTCODE_ALREADY_USED"},
		{&delivery.StatusError{Op: "redeem", Status: 500}, http.StatusBadGateway, "BACKEND_UNAVAILABLE"},
	}
	for _, tc := range cases {
		app := newTestApp(t)
		app.backend.redeemErr = tc.err

		w := app.redeem(t, "AB12CD34")
		assert.Equal(t, tc.status, w.Code)
		assert.Contains(t, w.Body.String(), tc.code)
	}
}

func dialStream(t *testing.T, srv *httptest.Server, attemptID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/attempts/" + attemptID + "/stream"
	return websocket.DefaultDialer.Dial(url, nil)
}

func readUntil(t *testing.T, conn *websocket.Conn, want session.EventType) session.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var ev session.Event
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == want {
			return ev
		}
	}
}

func TestAttemptStreamManualSubmit(t *testing.T) {
	app := newTestApp(t)
	require.Equal(t, http.StatusOK, app.redeem(t, "AB12CD34").Code)

	srv := httptest.NewServer(app.router)
	defer srv.Close()

	conn, _, err := dialStream(t, srv, "AB12CD34")
	require.NoError(t, err)
	defer conn.Close()

	st := readUntil(t, conn, session.EventState)
	assert.Equal(t, session.StatusInProgress, st.State.Status)
	assert.Equal(t, 3, st.State.TotalQuestions)
	// Ten minutes plus the one minute grace.
	assert.Equal(t, 11*time.Minute, app.mr.TTL("attempt:AB12CD34:stream"))

	send := func(v interface{}) { require.NoError(t, conn.WriteJSON(v)) }
	send(map[string]interface{}{"action": "select", "option": 1})
	send(map[string]interface{}{"action": "next"})
	send(map[string]interface{}{"action": "select", "option": 0})
	send(map[string]interface{}{"action": "goto", "index": 2})
	send(map[string]interface{}{"action": "request_submit"})
	readUntil(t, conn, session.EventPrompt)
	send(map[string]interface{}{"action": "confirm_submit"})

	ev := readUntil(t, conn, session.EventSubmitted)
	assert.Equal(t, session.ReasonManual, ev.Reason)

	answers, ok := app.backend.Submitted("AB12CD34")
	require.True(t, ok)
	assert.Equal(t, []model.AnswerEntry{
		{QuestionID: "q1", SelectedOption: 1},
		{QuestionID: "q2", SelectedOption: 0},
	}, answers)

	// A submitted attempt cannot be reopened.
	require.Eventually(t, func() bool {
		_, resp, err := dialStream(t, srv, "AB12CD34")
		return err != nil && resp != nil && resp.StatusCode == http.StatusConflict
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, http.StatusConflict, app.redeem(t, "AB12CD34").Code)
}

func TestAttemptStreamDisconnectLeavesSnapshot(t *testing.T) {
	app := newTestApp(t)
	require.Equal(t, http.StatusOK, app.redeem(t, "AB12CD34").Code)

	srv := httptest.NewServer(app.router)
	defer srv.Close()

	conn, _, err := dialStream(t, srv, "AB12CD34")
	require.NoError(t, err)
	readUntil(t, conn, session.EventState)
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"action": "select", "option": 1}))
	readUntil(t, conn, session.EventState)
	conn.Close()

	require.Eventually(t, func() bool {
		return app.mr.Exists("attempt:AB12CD34:scratch")
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return !app.mr.Exists("attempt:AB12CD34:stream")
	}, 2*time.Second, 20*time.Millisecond)

	// Reconnecting finds the snapshot and submits it as a reload.
	again, _, err := dialStream(t, srv, "AB12CD34")
	require.NoError(t, err)
	defer again.Close()
	v := readUntil(t, again, session.EventViolation)
	assert.Equal(t, session.ReasonReload, v.Reason)
	readUntil(t, again, session.EventSubmitted)

	require.Eventually(t, func() bool {
		answers, ok := app.backend.Submitted("AB12CD34")
		return ok && len(answers) == 1 && answers[0].SelectedOption == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestAttemptStreamFailedAutoSubmitClosesAttempt(t *testing.T) {
	app := newTestApp(t)
	require.Equal(t, http.StatusOK, app.redeem(t, "AB12CD34").Code)
	app.backend.submitErr = &delivery.StatusError{Op: "submit", Status: 503}

	srv := httptest.NewServer(app.router)
	defer srv.Close()

	conn, _, err := dialStream(t, srv, "AB12CD34")
	require.NoError(t, err)
	readUntil(t, conn, session.EventState)
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"action": "select", "option": 1}))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"action": "signal", "kind": "visibility_hidden"}))
	ev := readUntil(t, conn, session.EventSubmitted)
	assert.Equal(t, session.ReasonTabSwitch, ev.Reason)
	conn.Close()

	require.Eventually(t, func() bool {
		return !app.mr.Exists("attempt:AB12CD34:stream")
	}, 2*time.Second, 20*time.Millisecond)
	assert.True(t, app.mr.Exists("attempt:AB12CD34:closed"))

	// The frozen answers wait for the beacon worker.
	jobs, err := app.mr.List("best_effort_submissions_queue")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	var job model.BestEffortJob
	require.NoError(t, json.Unmarshal([]byte(jobs[0]), &job))
	assert.Equal(t, "AB12CD34", job.AttemptID)
	assert.Equal(t, []model.AnswerEntry{{QuestionID: "q1", SelectedOption: 1}}, job.Answers)

	// Neither a reconnect nor a fresh redemption reopens the attempt.
	_, resp, err := dialStream(t, srv, "AB12CD34")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, http.StatusConflict, app.redeem(t, "AB12CD34").Code)
	_, ok := app.backend.Submitted("AB12CD34")
	assert.False(t, ok)
}

func TestAttemptStreamUnknownAttempt(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.router)
	defer srv.Close()

	conn, _, err := dialStream(t, srv, "ZZ99ZZ99")
	require.NoError(t, err)
	defer conn.Close()

	ev := readUntil(t, conn, session.EventFailed)
	assert.Equal(t, "Invalid or expired test link.", ev.Message)
}

func readSSE(t *testing.T, r *bufio.Reader) map[string]interface{} {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if payload, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
			var msg map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(payload), &msg))
			return msg
		}
	}
}

func TestMonitorAttemptSSE(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/ops/attempts/ab12cd34/monitor", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body := bufio.NewReader(resp.Body)
	snapshot := readSSE(t, body)
	assert.Equal(t, "snapshot", snapshot["type"])
	assert.Empty(t, snapshot["events"])

	require.Eventually(t, func() bool {
		return app.mr.PubSubNumSub("attempt:AB12CD34:monitor")["attempt:AB12CD34:monitor"] == 1
	}, time.Second, 10*time.Millisecond)

	app.audit.Report(session.Report{
		Type:      model.AttemptEventViolation,
		AttemptID: "AB12CD34",
		Reason:    session.ReasonTabSwitch,
		Answered:  2,
	})

	live := readSSE(t, body)
	assert.Equal(t, "AB12CD34", live["attempt_id"])
	assert.Equal(t, string(model.AttemptEventViolation), live["type"])
	assert.Equal(t, string(session.ReasonTabSwitch), live["reason"])
}
