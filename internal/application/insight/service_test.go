package insight

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-api-guard/internal/application/ratelimit"
	"github.com/go-api-guard/internal/domain"
	"github.com/go-api-guard/internal/infrastructure/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type mockGenerator struct{ mock.Mock }

func (m *mockGenerator) Candidates(ctx context.Context, subjectID string) ([]Draft, error) {
	args := m.Called(ctx, subjectID)
	d, _ := args.Get(0).([]Draft)
	return d, args.Error(1)
}
func (m *mockGenerator) Enrich(ctx context.Context, subjectID string, d Draft) (string, []string, error) {
	args := m.Called(ctx, subjectID, d)
	a, _ := args.Get(1).([]string)
	return args.String(0), a, args.Error(2)
}

type recordingAudit struct{ entries []domain.AuditLogEntry }

func (r *recordingAudit) Append(_ context.Context, e domain.AuditLogEntry) error {
	r.entries = append(r.entries, e)
	return nil
}

func drafts(n int) []Draft {
	out := make([]Draft, n)
	for i := range out {
		out[i] = Draft{Fingerprint: fmt.Sprintf("fp-%02d", i), Title: "t", Severity: domain.SeverityLow}
	}
	return out
}

type fixture struct {
	svc   Service
	store *memory.InsightStore
	gen   *mockGenerator
	audit *recordingAudit
	now   time.Time
}

func newFixture(limit int) *fixture {
	f := &fixture{store: memory.NewInsightStore(), gen: &mockGenerator{}, audit: &recordingAudit{}, now: t0}
	clock := func() time.Time { f.now = f.now.Add(time.Millisecond); return f.now }
	gate := ratelimit.NewGate(ratelimit.GateDeps{Store: memory.NewCounter(), Clock: clock})
	f.svc = NewService(ServiceDeps{
		Store:     f.store,
		Generator: f.gen,
		Gate:      gate,
		Audit:     f.audit,
		Policy:    ratelimit.Policy{Limit: limit, Window: time.Hour},
		MaxPerRun: 5,
		Clock:     clock,
	})
	return f
}

func TestExecute_GeneratesAndSkipsExcess(t *testing.T) {
	f := newFixture(3)
	f.gen.On("Candidates", mock.Anything, "u1").Return(drafts(4), nil)
	f.gen.On("Enrich", mock.Anything, "u1", mock.Anything).Return("summary", []string{"act"}, nil)

	res, err := f.svc.Execute(context.Background(), "u1", 3)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecuteResult{Generated: 3, Skipped: 1}, res)

	page, err := f.svc.List(context.Background(), "u1", 0, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	for _, in := range page.Items {
		assert.Equal(t, domain.InsightCompleted, in.Status)
		assert.Equal(t, "summary", in.Summary)
	}
	assert.Nil(t, page.NextCursor)
	require.Len(t, f.audit.entries, 3)
	assert.Equal(t, domain.AuditInsightGenerated, f.audit.entries[0].Action)
}

func TestExecute_EnrichFailureMarksFailed(t *testing.T) {
	f := newFixture(3)
	ds := drafts(2)
	f.gen.On("Candidates", mock.Anything, "u1").Return(ds, nil)
	f.gen.On("Enrich", mock.Anything, "u1", ds[0]).Return("ok", nil, nil)
	f.gen.On("Enrich", mock.Anything, "u1", ds[1]).Return("", nil, errors.New("model timeout"))

	res, err := f.svc.Execute(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Generated)
	assert.Equal(t, 1, res.Failed)

	page, err := f.svc.List(context.Background(), "u1", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	failed := page.Items[0]
	assert.Equal(t, domain.InsightFailed, failed.Status)
	assert.Equal(t, "model timeout", failed.FailureReason)
	assert.Len(t, f.audit.entries, 1)
}

func TestExecute_DeniedDoesNoWork(t *testing.T) {
	f := newFixture(1)
	f.gen.On("Candidates", mock.Anything, "u1").Return(drafts(1), nil).Once()
	f.gen.On("Enrich", mock.Anything, "u1", mock.Anything).Return("s", nil, nil).Once()

	_, err := f.svc.Execute(context.Background(), "u1", 1)
	require.NoError(t, err)

	res, err := f.svc.Execute(context.Background(), "u1", 1)
	require.NoError(t, err)
	assert.True(t, res.RateLimited)
	assert.Equal(t, 3600, res.RetryAfterSeconds)
	assert.Zero(t, res.Generated)
	f.gen.AssertExpectations(t)

	page, err := f.svc.List(context.Background(), "u1", 10, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
}

func TestExecute_CandidateErrorIsTransient(t *testing.T) {
	f := newFixture(3)
	f.gen.On("Candidates", mock.Anything, "u1").Return(nil, errors.New("boom"))

	_, err := f.svc.Execute(context.Background(), "u1", 1)
	assert.ErrorIs(t, err, domain.ErrTransient)

	_, err = f.svc.Execute(context.Background(), "", 1)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestList_PagesThroughEverythingOnce(t *testing.T) {
	f := newFixture(1)
	f.gen.On("Candidates", mock.Anything, "u1").Return(drafts(30), nil)
	f.gen.On("Enrich", mock.Anything, "u1", mock.Anything).Return("s", nil, nil)

	res, err := f.svc.Execute(context.Background(), "u1", 30)
	require.NoError(t, err)
	require.Equal(t, 30, res.Generated)

	seen := map[string]bool{}
	after := ""
	pages := 0
	for {
		page, err := f.svc.List(context.Background(), "u1", 10, after)
		require.NoError(t, err)
		pages++
		for i, in := range page.Items {
			assert.False(t, seen[in.InsightID], "duplicate %s", in.InsightID)
			seen[in.InsightID] = true
			if i > 0 {
				assert.False(t, in.CreatedAt.After(page.Items[i-1].CreatedAt))
			}
		}
		if page.NextCursor == nil {
			assert.Len(t, page.Items, 10)
			break
		}
		after = *page.NextCursor
		require.Less(t, pages, 4)
	}
	assert.Equal(t, 3, pages)
	assert.Len(t, seen, 30)
}

func TestList_LimitCapAndBadCursor(t *testing.T) {
	f := newFixture(1)
	f.gen.On("Candidates", mock.Anything, "u1").Return(drafts(30), nil)
	f.gen.On("Enrich", mock.Anything, "u1", mock.Anything).Return("s", nil, nil)
	_, err := f.svc.Execute(context.Background(), "u1", 30)
	require.NoError(t, err)

	page, err := f.svc.List(context.Background(), "u1", 1000, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 25)
	assert.NotNil(t, page.NextCursor)

	page, err = f.svc.List(context.Background(), "u1", 0, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 10)

	_, err = f.svc.List(context.Background(), "u1", 10, "%%%")
	assert.ErrorIs(t, err, domain.ErrValidation)

	page, err = f.svc.List(context.Background(), "nobody", 10, "")
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
}

func TestRuleGenerator(t *testing.T) {
	users := memory.NewAccountStore()
	changed := t0.Add(-200 * 24 * time.Hour)
	require.NoError(t, users.PutUser(context.Background(), &domain.User{UserID: "u1", CreatedAt: changed, PasswordChangedAt: &changed}))
	require.NoError(t, users.PutUser(context.Background(), &domain.User{UserID: "u2", EmailVerified: true, TwoFactorEnabled: true, CreatedAt: t0}))
	g := NewRuleGenerator(users, func() time.Time { return t0 })

	ds, err := g.Candidates(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, ds, 3)
	assert.Equal(t, domain.SeverityHigh, ds[0].Severity)
	for _, d := range ds {
		summary, actions, err := g.Enrich(context.Background(), "u1", d)
		require.NoError(t, err)
		assert.NotEmpty(t, summary)
		assert.NotEmpty(t, actions)
	}

	ds, err = g.Candidates(context.Background(), "u2")
	require.NoError(t, err)
	assert.Empty(t, ds)

	_, err = g.Candidates(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = g.Enrich(context.Background(), "u1", Draft{Fingerprint: "unknown"})
	assert.Error(t, err)
}
