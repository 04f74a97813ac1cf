package appeal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/scorecard/internal/models"
)

// mockBackend implements Backend. Errors can be injected per call and a
// gate channel can hold CreateAppeal until closed.
type mockBackend struct {
	mu sync.Mutex

	createErr   error
	deleteErr   error
	responseErr error
	patchErr    error

	gate    chan struct{}
	entered chan struct{}

	created   []*models.AppealRequest
	deleted   []string
	responses []*models.AppealResponseRequest
	patches   []*models.ReviewPatch
}

func (m *mockBackend) CreateAppeal(_ context.Context, req *models.AppealRequest) (*models.AppealInfo, error) {
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, req)
	return &models.AppealInfo{ID: fmt.Sprintf("ap-%d", len(m.created)), ReviewItemCommentID: req.ReviewItemCommentID, Content: req.Content}, nil
}

func (m *mockBackend) DeleteAppeal(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockBackend) CreateAppealResponse(_ context.Context, req *models.AppealResponseRequest) (*models.AppealResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.responseErr != nil {
		return nil, m.responseErr
	}
	m.responses = append(m.responses, req)
	return &models.AppealResponse{ID: "resp-1", AppealID: req.AppealID, Content: req.Content, Success: req.Success}, nil
}

func (m *mockBackend) PatchReview(_ context.Context, _ string, patch *models.ReviewPatch) (*models.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.patchErr != nil {
		return nil, m.patchErr
	}
	m.patches = append(m.patches, patch)
	return nil, nil
}

type recordingReporter struct{ errs []error }

func (r *recordingReporter) HandleError(err error) { r.errs = append(r.errs, err) }

func intPtr(i int) *int { return &i }

func testScorecard() *models.Scorecard {
	return &models.Scorecard{Groups: []*models.ScorecardGroup{{
		ID: "g1", Weight: 100,
		Sections: []*models.ScorecardSection{{ID: "s1", Weight: 100, Questions: []*models.ScorecardQuestion{
			{ID: "q1", Type: models.QuestionTypeYesNo, Weight: 50},
			{ID: "q2", Type: models.QuestionTypeScale, Weight: 50, ScaleMin: intPtr(1), ScaleMax: intPtr(5)},
		}}},
	}}}
}

func committedReview() *models.Review {
	return &models.Review{
		ID:         "rv-1",
		Committed:  true,
		FinalScore: 50,
		ReviewItems: []*models.ReviewItem{
			{ID: "ri-1", ScorecardQuestionID: "q1", InitialAnswer: "No", ReviewItemComments: []*models.ReviewItemComment{
				{ID: "c1", Content: "missing docs", Type: models.CommentTypeRequired, SortOrder: 0},
				{ID: "c2", Content: "nit", Type: models.CommentTypeComment, SortOrder: 1,
					Appeal: &models.AppealInfo{ID: "ap-old", ReviewItemCommentID: "c2", Content: "disagree",
						AppealResponse: &models.AppealResponse{ID: "r-old", AppealID: "ap-old", Success: false}}},
			}},
			{ID: "ri-2", ScorecardQuestionID: "q2", InitialAnswer: "5"},
		},
	}
}

func newTestWorkflow(t *testing.T, b *mockBackend) (*Workflow, *recordingReporter) {
	t.Helper()
	rep := &recordingReporter{}
	w := New(b, WithReporter(rep))
	w.Load(testScorecard(), committedReview())
	return w, rep
}

func TestLoad_IndexesAppeals(t *testing.T) {
	w, _ := newTestWorkflow(t, &mockBackend{})

	m := w.MappingAppeals()
	require.Len(t, m, 1)
	assert.Equal(t, "ap-old", m["c2"].ID)

	assert.Equal(t, StateNone, w.Status("c1").State)
	assert.Equal(t, StateDenied, w.Status("c2").State)
}

func TestRaiseAppeal(t *testing.T) {
	b := &mockBackend{}
	w, _ := newTestWorkflow(t, b)

	a, err := w.RaiseAppeal(context.Background(), "this is wrong", "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", a.ReviewItemCommentID)

	got, ok := w.Appeal("c1")
	require.True(t, ok)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, StatePending, w.Status("c1").State)
	assert.False(t, w.IsCommentSaving("c1"))

	_, c, _ := w.Review().FindComment("c1")
	assert.Equal(t, a, c.Appeal)
}

func TestRaiseAppeal_SecondAppealRejected(t *testing.T) {
	b := &mockBackend{}
	w, _ := newTestWorkflow(t, b)

	_, err := w.RaiseAppeal(context.Background(), "again", "c2")
	assert.ErrorIs(t, err, ErrAppealExists)
	assert.Empty(t, b.created)
}

func TestRaiseAppeal_Preconditions(t *testing.T) {
	b := &mockBackend{}
	w, _ := newTestWorkflow(t, b)
	ctx := context.Background()

	_, err := w.RaiseAppeal(ctx, "x", "nope")
	assert.ErrorIs(t, err, ErrCommentNotFound)
	_, err = w.RaiseAppeal(ctx, "x", "")
	assert.ErrorIs(t, err, ErrCommentNotFound)
	_, err = w.RaiseAppeal(ctx, "  ", "c1")
	assert.ErrorIs(t, err, ErrEmptyContent)

	draft := committedReview()
	draft.Committed = false
	w.Load(testScorecard(), draft)
	_, err = w.RaiseAppeal(ctx, "x", "c1")
	assert.ErrorIs(t, err, ErrNotCommitted)

	_, err = New(b).RaiseAppeal(ctx, "x", "c1")
	assert.ErrorIs(t, err, ErrNotLoaded)
	assert.Empty(t, b.created)
}

func TestRaiseAppeal_FailureReportedAndCleared(t *testing.T) {
	b := &mockBackend{createErr: errors.New("network down")}
	w, rep := newTestWorkflow(t, b)

	_, err := w.RaiseAppeal(context.Background(), "appeal", "c1")
	require.Error(t, err)
	require.Len(t, rep.errs, 1)
	assert.False(t, w.IsCommentSaving("c1"), "busy flag cleared for retry")
	_, ok := w.Appeal("c1")
	assert.False(t, ok)

	b.createErr = nil
	_, err = w.RaiseAppeal(context.Background(), "appeal", "c1")
	assert.NoError(t, err)
}

func TestRaiseAppeal_PerCommentBusy(t *testing.T) {
	b := &mockBackend{gate: make(chan struct{}), entered: make(chan struct{}, 2)}
	w, _ := newTestWorkflow(t, b)

	done := make(chan error, 1)
	go func() {
		_, err := w.RaiseAppeal(context.Background(), "first", "c1")
		done <- err
	}()
	select {
	case <-b.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("appeal did not start")
	}

	assert.True(t, w.IsCommentSaving("c1"))
	assert.True(t, w.Status("c1").Busy)
	assert.False(t, w.Status("c2").Busy, "other rows stay usable")

	_, err := w.RaiseAppeal(context.Background(), "dup", "c1")
	assert.ErrorIs(t, err, ErrBusy)

	// other rows are not blocked
	require.NoError(t, w.AddManagerComment(context.Background(), "ok", "ri-2"))

	close(b.gate)
	require.NoError(t, <-done)
	assert.False(t, w.IsCommentSaving("c1"))
}

func TestDeleteAppeal_WithResponse(t *testing.T) {
	b := &mockBackend{}
	w, _ := newTestWorkflow(t, b)

	require.NoError(t, w.DeleteAppeal(context.Background(), "ap-old"))
	_, ok := w.Appeal("c2")
	assert.False(t, ok)
	assert.Equal(t, StateNone, w.Status("c2").State)
	assert.Equal(t, []string{"ap-old"}, b.deleted)

	// a new appeal may be raised afterwards
	_, err := w.RaiseAppeal(context.Background(), "retry", "c2")
	assert.NoError(t, err)
}

func TestDeleteAppeal_WithoutResponse(t *testing.T) {
	b := &mockBackend{}
	w, _ := newTestWorkflow(t, b)
	a, err := w.RaiseAppeal(context.Background(), "x", "c1")
	require.NoError(t, err)

	require.NoError(t, w.DeleteAppeal(context.Background(), a.ID))
	_, ok := w.Appeal("c1")
	assert.False(t, ok)
}

func TestDeleteAppeal_Errors(t *testing.T) {
	b := &mockBackend{deleteErr: errors.New("500")}
	w, rep := newTestWorkflow(t, b)

	assert.ErrorIs(t, w.DeleteAppeal(context.Background(), "missing"), ErrAppealNotFound)

	require.Error(t, w.DeleteAppeal(context.Background(), "ap-old"))
	assert.Len(t, rep.errs, 1)
	_, ok := w.Appeal("c2")
	assert.True(t, ok, "appeal kept when delete fails")
	assert.False(t, w.IsAppealSaving("ap-old"))
}

func TestAddAppealResponse(t *testing.T) {
	b := &mockBackend{}
	w, _ := newTestWorkflow(t, b)
	a, err := w.RaiseAppeal(context.Background(), "please reconsider", "c1")
	require.NoError(t, err)

	resp, err := w.AddAppealResponse(context.Background(), ResponseInput{
		AppealID: a.ID, ItemID: "ri-1", Content: "granted", Success: true,
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, StateGranted, w.Status("c1").State)
	assert.Empty(t, b.patches, "no override requested")
}

func TestAddAppealResponse_OverrideRescores(t *testing.T) {
	b := &mockBackend{}
	w, _ := newTestWorkflow(t, b)
	final := "Yes"

	_, err := w.AddAppealResponse(context.Background(), ResponseInput{
		AppealID: "ap-old", ItemID: "ri-1", Content: "you were right", Success: true, FinalAnswer: &final,
	})
	require.NoError(t, err)

	require.Len(t, b.patches, 1)
	p := b.patches[0]
	require.Len(t, p.ReviewItems, 1)
	assert.Equal(t, "q1", p.ReviewItems[0].ScorecardQuestionID)
	assert.Equal(t, "Yes", *p.ReviewItems[0].FinalAnswer)
	assert.Nil(t, p.ReviewItems[0].ReviewItemComments, "comments left untouched")
	require.NotNil(t, p.FinalScore)
	assert.Equal(t, 100.0, *p.FinalScore)

	it, _ := w.Review().FindItem("ri-1")
	assert.Equal(t, "Yes", it.EffectiveAnswer())
	assert.Equal(t, 100.0, w.Review().FinalScore)
}

func TestAddAppealResponse_RequiresAppeal(t *testing.T) {
	b := &mockBackend{}
	w, _ := newTestWorkflow(t, b)

	_, err := w.AddAppealResponse(context.Background(), ResponseInput{AppealID: "none", ItemID: "ri-1", Content: "x"})
	assert.ErrorIs(t, err, ErrAppealNotFound)
	_, err = w.AddAppealResponse(context.Background(), ResponseInput{AppealID: "ap-old", ItemID: "bad", Content: "x"})
	assert.ErrorIs(t, err, ErrItemNotFound)
	assert.Empty(t, b.responses)
}

func TestAddManagerComment(t *testing.T) {
	b := &mockBackend{}
	w, _ := newTestWorkflow(t, b)

	require.NoError(t, w.AddManagerComment(context.Background(), "checked", "ri-1"))
	require.Len(t, b.patches, 1)
	assert.Equal(t, "checked", *b.patches[0].ReviewItems[0].ManagerComment)
	assert.Nil(t, b.patches[0].Committed)

	it, _ := w.Review().FindItem("ri-1")
	assert.Equal(t, "checked", *it.ManagerComment)

	assert.ErrorIs(t, w.AddManagerComment(context.Background(), "x", "missing"), ErrItemNotFound)
}

func TestAddManagerComment_Failure(t *testing.T) {
	b := &mockBackend{patchErr: errors.New("denied")}
	w, rep := newTestWorkflow(t, b)

	require.Error(t, w.AddManagerComment(context.Background(), "x", "ri-1"))
	assert.Len(t, rep.errs, 1)
	assert.False(t, w.IsItemSaving("ri-1"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "none", StateNone.String())
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "granted", StateGranted.String())
	assert.Equal(t, "denied", StateDenied.String())
}
