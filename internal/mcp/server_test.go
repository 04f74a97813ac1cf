package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/scorecard/internal/models"
	"github.com/joescharf/scorecard/internal/store"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

// mockReader implements Reader for testing.
type mockReader struct {
	scorecards map[string]*models.Scorecard
	reviews    map[string]*models.Review

	getReviewErr   error
	listReviewsErr error

	lastFilter store.ReviewListFilter
}

func (m *mockReader) GetScorecard(_ context.Context, id string) (*models.Scorecard, error) {
	sc, ok := m.scorecards[id]
	if !ok {
		return nil, fmt.Errorf("scorecard %s: not found", id)
	}
	return sc, nil
}

func (m *mockReader) GetReview(_ context.Context, id string) (*models.Review, error) {
	if m.getReviewErr != nil {
		return nil, m.getReviewErr
	}
	r, ok := m.reviews[id]
	if !ok {
		return nil, fmt.Errorf("review %s: not found", id)
	}
	return r, nil
}

func (m *mockReader) ListReviews(_ context.Context, filter store.ReviewListFilter) ([]*models.Review, error) {
	m.lastFilter = filter
	if m.listReviewsErr != nil {
		return nil, m.listReviewsErr
	}
	var out []*models.Review
	for _, r := range m.reviews {
		if filter.Committed != nil && r.Committed != *filter.Committed {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func intPtr(i int) *int       { return &i }
func strPtr(s string) *string { return &s }

func newTestServer(t *testing.T) (*Server, *mockReader) {
	t.Helper()
	sc := &models.Scorecard{
		ID:   "sc-1",
		Name: "Development Review",
		Groups: []*models.ScorecardGroup{{
			ID: "g1", Name: "Code", Weight: 100,
			Sections: []*models.ScorecardSection{
				{ID: "s1", Name: "Correctness", Weight: 60, Questions: []*models.ScorecardQuestion{
					{ID: "q1", Description: "Builds cleanly", Type: models.QuestionTypeYesNo, Weight: 100},
				}},
				{ID: "s2", Name: "Quality", Weight: 40, Questions: []*models.ScorecardQuestion{
					{ID: "q2", Description: "Readability", Type: models.QuestionTypeScale, Weight: 100, ScaleMin: intPtr(0), ScaleMax: intPtr(10)},
				}},
			},
		}},
	}
	review := &models.Review{
		ID: "rv-1", ScorecardID: "sc-1", Committed: true, FinalScore: 80, InitialScore: 60,
		ReviewItems: []*models.ReviewItem{
			{ID: "ri-1", ScorecardQuestionID: "q1", InitialAnswer: "No", FinalAnswer: strPtr("Yes"),
				ReviewItemComments: []*models.ReviewItemComment{
					{ID: "c2", Content: "later", Type: models.CommentTypeComment, SortOrder: 2},
					{ID: "c1", Content: "fails", Type: models.CommentTypeRequired, SortOrder: 1,
						Appeal: &models.AppealInfo{ID: "ap-1", ReviewItemCommentID: "c1", Content: "it builds",
							AppealResponse: &models.AppealResponse{ID: "ar-1", AppealID: "ap-1", Content: "agreed", Success: true}}},
				}},
			{ID: "ri-2", ScorecardQuestionID: "q2", InitialAnswer: "5",
				ReviewItemComments: []*models.ReviewItemComment{
					{ID: "c3", Content: "naming", Type: models.CommentTypeRecommended, SortOrder: 1,
						Appeal: &models.AppealInfo{ID: "ap-2", ReviewItemCommentID: "c3", Content: "names are fine"}},
				}},
		},
	}
	mr := &mockReader{
		scorecards: map[string]*models.Scorecard{"sc-1": sc},
		reviews:    map[string]*models.Review{"rv-1": review},
	}
	return NewServer(mr, "en-US", "test"), mr
}

func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestNewServer(t *testing.T) {
	srv, _ := newTestServer(t)
	require.NotNil(t, srv.MCPServer())
}

func TestHandleReviewScore(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleReviewScore(context.Background(), callToolReq("scorecard_review_score", map[string]any{"review_id": "rv-1"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out struct {
		Score        float64 `json:"score"`
		InitialScore float64 `json:"initial_score"`
		StoredFinal  float64 `json:"stored_final_score"`
		Progress     int     `json:"progress"`
		Groups       []struct {
			Score    float64 `json:"score"`
			Sections []struct {
				Name  string  `json:"name"`
				Score float64 `json:"score"`
			} `json:"sections"`
		} `json:"groups"`
	}
	resultJSON(t, result, &out)
	assert.Equal(t, 80.0, out.Score, "final answer Yes overrides initial No")
	assert.Equal(t, 20.0, out.InitialScore)
	assert.Equal(t, 80.0, out.StoredFinal)
	assert.Equal(t, 100, out.Progress)
	require.Len(t, out.Groups, 1)
	require.Len(t, out.Groups[0].Sections, 2)
	assert.Equal(t, 100.0, out.Groups[0].Sections[0].Score)
	assert.Equal(t, 50.0, out.Groups[0].Sections[1].Score)
}

func TestHandleReviewScore_MissingParam(t *testing.T) {
	srv, _ := newTestServer(t)
	result, err := srv.handleReviewScore(context.Background(), callToolReq("scorecard_review_score", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "review_id")
}

func TestHandleReviewScore_BackendError(t *testing.T) {
	srv, mr := newTestServer(t)
	mr.getReviewErr = fmt.Errorf("db connection failed")

	result, err := srv.handleReviewScore(context.Background(), callToolReq("scorecard_review_score", map[string]any{"review_id": "rv-1"}))
	require.NoError(t, err, "handler should not return Go error; should wrap in result")
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "db connection failed")
}

func TestHandleReviewShow(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleReviewShow(context.Background(), callToolReq("scorecard_review_show", map[string]any{"review_id": "rv-1"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out struct {
		Scorecard string `json:"scorecard"`
		Questions []struct {
			ID       string `json:"id"`
			Section  string `json:"section"`
			Answer   string `json:"answer"`
			Comments []struct {
				ID     string `json:"id"`
				Appeal string `json:"appeal"`
			} `json:"comments"`
		} `json:"questions"`
	}
	resultJSON(t, result, &out)
	assert.Equal(t, "Development Review", out.Scorecard)
	require.Len(t, out.Questions, 2)
	assert.Equal(t, "Yes", out.Questions[0].Answer)
	assert.Equal(t, "Correctness", out.Questions[0].Section)

	cs := out.Questions[0].Comments
	require.Len(t, cs, 2)
	assert.Equal(t, "c1", cs[0].ID, "comments in sortOrder")
	assert.Equal(t, "granted", cs[0].Appeal)
	assert.Empty(t, cs[1].Appeal)
	assert.Equal(t, "pending", out.Questions[1].Comments[0].Appeal)
}

func TestHandleReviewShow_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	result, err := srv.handleReviewShow(context.Background(), callToolReq("scorecard_review_show", map[string]any{"review_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not found")
}

func TestHandleAppealStatus_All(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleAppealStatus(context.Background(), callToolReq("scorecard_appeal_status", map[string]any{"review_id": "rv-1"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out []appealOut
	resultJSON(t, result, &out)
	require.Len(t, out, 2)
	assert.Equal(t, "c1", out[0].CommentID)
	assert.Equal(t, "granted", out[0].State)
	assert.Equal(t, "agreed", out[0].Response)
	require.NotNil(t, out[0].Granted)
	assert.True(t, *out[0].Granted)
	assert.Equal(t, "c3", out[1].CommentID)
	assert.Equal(t, "pending", out[1].State)
	assert.Nil(t, out[1].Granted)
}

func TestHandleAppealStatus_SingleComment(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleAppealStatus(context.Background(), callToolReq("scorecard_appeal_status", map[string]any{"review_id": "rv-1", "comment_id": "c2"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out []appealOut
	resultJSON(t, result, &out)
	require.Len(t, out, 1)
	assert.Equal(t, "none", out[0].State)
	assert.Empty(t, out[0].AppealID)
}

func TestHandleAppealStatus_UnknownComment(t *testing.T) {
	srv, _ := newTestServer(t)
	result, err := srv.handleAppealStatus(context.Background(), callToolReq("scorecard_appeal_status", map[string]any{"review_id": "rv-1", "comment_id": "zzz"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "comment not found")
}

func TestHandleListReviews(t *testing.T) {
	srv, mr := newTestServer(t)

	result, err := srv.handleListReviews(context.Background(), callToolReq("scorecard_list_reviews", map[string]any{"committed": "true", "scorecard_id": "sc-1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "sc-1", mr.lastFilter.ScorecardID)
	require.NotNil(t, mr.lastFilter.Committed)

	var out []map[string]any
	resultJSON(t, result, &out)
	require.Len(t, out, 1)
	assert.Equal(t, "rv-1", out[0]["id"])

	result, err = srv.handleListReviews(context.Background(), callToolReq("scorecard_list_reviews", map[string]any{"committed": "maybe"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleListReviews_BackendError(t *testing.T) {
	srv, mr := newTestServer(t)
	mr.listReviewsErr = fmt.Errorf("db connection failed")

	result, err := srv.handleListReviews(context.Background(), callToolReq("scorecard_list_reviews", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "db connection failed")
}
