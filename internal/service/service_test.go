package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candorworks/exam-proctor/internal/config"
	"github.com/candorworks/exam-proctor/internal/metrics"
	"github.com/candorworks/exam-proctor/internal/model"
	"github.com/candorworks/exam-proctor/internal/repository"
	"github.com/candorworks/exam-proctor/internal/session"
)

type stubBackend struct {
	data      *model.TestData
	err       error
	submitErr error
	redeemed  []string
	submitted []string
}

func (b *stubBackend) RedeemShortcode(_ context.Context, code string) (*model.TestData, error) {
	b.redeemed = append(b.redeemed, code)
	if b.err != nil {
		return nil, b.err
	}
	return b.data, nil
}

func (b *stubBackend) SubmitAttempt(_ context.Context, attemptID string, _ []model.AnswerEntry) error {
	b.submitted = append(b.submitted, attemptID)
	return b.submitErr
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func sampleTestData() *model.TestData {
	return &model.TestData{
		AttemptID:       "AB12CD34",
		Candidate:       model.Candidate{Name: "Ada", Email: "ada@example.com"},
		Questions:       []model.Question{{ID: "q1", Text: "2+2", Options: []string{"3", "4"}}},
		DurationMinutes: 45,
	}
}

func newAttemptService(t *testing.T, backend *stubBackend) (*AttemptService, *repository.AttemptCacheRepository, *miniredis.Miniredis) {
	mr, rdb := newTestRedis(t)
	cache := repository.NewAttemptCacheRepository(rdb)
	svc := NewAttemptService(backend, cache, NewAttemptTokenService("test-secret"), 30*time.Minute, zerolog.Nop())
	return svc, cache, mr
}

func TestRedeemCachesPayloadAndIssuesToken(t *testing.T) {
	backend := &stubBackend{data: sampleTestData()}
	svc, _, mr := newAttemptService(t, backend)

	resp, err := svc.Redeem(context.Background(), "ab12cd34")
	require.NoError(t, err)
	assert.Equal(t, []string{"AB12CD34"}, backend.redeemed)
	assert.Equal(t, "AB12CD34", resp.AttemptID)
	assert.Equal(t, 75*time.Minute, mr.TTL(config.CacheKey.AttemptPayloadKey("AB12CD34")))

	claims, err := NewAttemptTokenService("test-secret").Validate(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "AB12CD34", claims.AttemptID)

	loaded, err := svc.LoadTestData(context.Background(), "AB12CD34")
	require.NoError(t, err)
	assert.Equal(t, sampleTestData(), loaded)
}

func TestRedeemRejectsMalformedShortcode(t *testing.T) {
	backend := &stubBackend{data: sampleTestData()}
	svc, _, _ := newAttemptService(t, backend)

	for _, code := range []string{"", "ABC", "AB12CD345", "AB12-D34"} {
		_, err := svc.Redeem(context.Background(), code)
		assert.ErrorIs(t, err, ErrInvalidShortcode, code)
	}
	assert.Empty(t, backend.redeemed)
}

func TestRedeemRefusesSubmittedAttempt(t *testing.T) {
	backend := &stubBackend{data: sampleTestData()}
	svc, cache, _ := newAttemptService(t, backend)
	require.NoError(t, cache.MarkSubmitted(context.Background(), "AB12CD34", time.Hour))

	_, err := svc.Redeem(context.Background(), "AB12CD34")
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	assert.ErrorIs(t, svc.CheckOpen(context.Background(), "AB12CD34"), ErrAlreadySubmitted)
	assert.Empty(t, backend.redeemed)
}

func TestRedeemPassesBackendError(t *testing.T) {
	notFound := errors.New("shortcode not found")
	svc, _, _ := newAttemptService(t, &stubBackend{err: notFound})

	_, err := svc.Redeem(context.Background(), "AB12CD34")
	assert.ErrorIs(t, err, notFound)
}

func TestLoadTestDataMissing(t *testing.T) {
	svc, _, _ := newAttemptService(t, &stubBackend{})

	data, err := svc.LoadTestData(context.Background(), "ZZ99ZZ99")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestAttemptTokenRejectsForeignSignature(t *testing.T) {
	token, err := NewAttemptTokenService("one").Issue("AB12CD34", time.Hour)
	require.NoError(t, err)

	_, err = NewAttemptTokenService("two").Validate(token)
	assert.ErrorIs(t, err, ErrInvalidAttemptToken)
}

func TestAttemptTokenExpires(t *testing.T) {
	token, err := NewAttemptTokenService("one").Issue("AB12CD34", -time.Minute)
	require.NoError(t, err)

	_, err = NewAttemptTokenService("one").Validate(token)
	assert.ErrorIs(t, err, ErrInvalidAttemptToken)
}

func TestSubmitAttemptMarksSubmitted(t *testing.T) {
	_, rdb := newTestRedis(t)
	cache := repository.NewAttemptCacheRepository(rdb)
	backend := &stubBackend{}
	svc := NewSubmissionService(backend, cache, rdb, time.Hour, zerolog.Nop())

	require.NoError(t, svc.SubmitAttempt(context.Background(), "AB12CD34", nil))
	submitted, err := cache.IsSubmitted(context.Background(), "AB12CD34")
	require.NoError(t, err)
	assert.True(t, submitted)
}

func TestSubmitAttemptFailureLeavesAttemptOpen(t *testing.T) {
	_, rdb := newTestRedis(t)
	cache := repository.NewAttemptCacheRepository(rdb)
	backend := &stubBackend{submitErr: errors.New("503")}
	svc := NewSubmissionService(backend, cache, rdb, time.Hour, zerolog.Nop())

	assert.Error(t, svc.SubmitAttempt(context.Background(), "AB12CD34", nil))
	submitted, err := cache.IsSubmitted(context.Background(), "AB12CD34")
	require.NoError(t, err)
	assert.False(t, submitted)
}

func TestCloseAttemptRefusesRedeemAndStream(t *testing.T) {
	backend := &stubBackend{data: sampleTestData()}
	svc, cache, _ := newAttemptService(t, backend)
	_, rdb := newTestRedis(t)
	submissions := NewSubmissionService(backend, cache, rdb, time.Hour, zerolog.Nop())

	require.NoError(t, svc.CheckOpen(context.Background(), "AB12CD34"))
	require.NoError(t, submissions.CloseAttempt(context.Background(), "AB12CD34"))

	_, err := svc.Redeem(context.Background(), "AB12CD34")
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	assert.ErrorIs(t, svc.CheckOpen(context.Background(), "AB12CD34"), ErrAlreadySubmitted)
	assert.Empty(t, backend.redeemed)
}

func TestStreamTTLCoversAttemptSpan(t *testing.T) {
	svc, _, _ := newAttemptService(t, &stubBackend{})

	assert.Equal(t, 75*time.Minute, svc.StreamTTL(sampleTestData()))
	assert.Equal(t, 30*time.Minute, svc.StreamTTL(nil))
}

func TestSubmitBestEffortQueuesJob(t *testing.T) {
	mr, rdb := newTestRedis(t)
	backend := &stubBackend{}
	svc := NewSubmissionService(backend, repository.NewAttemptCacheRepository(rdb), rdb, time.Hour, zerolog.Nop())

	svc.SubmitBestEffort("AB12CD34", []model.AnswerEntry{{QuestionID: "q1", SelectedOption: 2}})

	items, err := mr.List(config.WorkerKey.BestEffortSubmissionsQueue)
	require.NoError(t, err)
	require.Len(t, items, 1)

	var job model.BestEffortJob
	require.NoError(t, json.Unmarshal([]byte(items[0]), &job))
	assert.Equal(t, "AB12CD34", job.AttemptID)
	assert.Equal(t, []model.AnswerEntry{{QuestionID: "q1", SelectedOption: 2}}, job.Answers)
	assert.Empty(t, backend.submitted, "best-effort never calls the backend inline")
}

func TestSubmitBestEffortSwallowsRedisFailure(t *testing.T) {
	mr, rdb := newTestRedis(t)
	svc := NewSubmissionService(&stubBackend{}, repository.NewAttemptCacheRepository(rdb), rdb, time.Hour, zerolog.Nop())
	mr.Close()

	assert.NotPanics(t, func() { svc.SubmitBestEffort("AB12CD34", nil) })
}

func TestAuditReportQueuesAndPublishes(t *testing.T) {
	mr, rdb := newTestRedis(t)
	svc := NewAuditService(rdb, nil, zerolog.Nop())
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, config.CacheKey.AttemptMonitorChannel("AB12CD34"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	before := testutil.ToFloat64(metrics.Violations.WithLabelValues(string(session.ReasonTabSwitch)))
	svc.Report(session.Report{
		Type:      model.AttemptEventViolation,
		AttemptID: "AB12CD34",
		Reason:    session.ReasonTabSwitch,
		Answered:  1,
	})
	after := testutil.ToFloat64(metrics.Violations.WithLabelValues(string(session.ReasonTabSwitch)))
	assert.Equal(t, before+1, after)

	items, err := mr.List(config.WorkerKey.PersistAttemptEventsQueue)
	require.NoError(t, err)
	require.Len(t, items, 1)

	var ev model.AttemptEvent
	require.NoError(t, json.Unmarshal([]byte(items[0]), &ev))
	assert.Equal(t, model.AttemptEventViolation, ev.Type)
	assert.Equal(t, "TAB_SWITCH", ev.Reason)
	assert.JSONEq(t, `{"answered":1}`, string(ev.Detail))

	select {
	case msg := <-sub.Channel():
		assert.JSONEq(t, items[0], msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor publish not received")
	}
}

func TestAuditReportCountsScratchErrorsByOp(t *testing.T) {
	_, rdb := newTestRedis(t)
	svc := NewAuditService(rdb, nil, zerolog.Nop())

	before := testutil.ToFloat64(metrics.ScratchErrors.WithLabelValues("take"))
	svc.Report(session.Report{
		Type:      model.AttemptEventScratchError,
		AttemptID: "AB12CD34",
		Err:       &session.StorageError{Op: "take", AttemptID: "AB12CD34", Err: errors.New("down")},
	})
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ScratchErrors.WithLabelValues("take")))
}
