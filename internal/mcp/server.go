package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/scorecard/internal/appeal"
	"github.com/joescharf/scorecard/internal/models"
	"github.com/joescharf/scorecard/internal/scoring"
	"github.com/joescharf/scorecard/internal/store"
)

// Reader is the read-only slice of the backend the tools need.
type Reader interface {
	GetScorecard(ctx context.Context, id string) (*models.Scorecard, error)
	GetReview(ctx context.Context, id string) (*models.Review, error)
	ListReviews(ctx context.Context, filter store.ReviewListFilter) ([]*models.Review, error)
}

// Server exposes reviews and scores as MCP tools.
type Server struct {
	backend Reader
	locale  string
	version string
}

// NewServer creates the MCP server wrapper. Date strings in tool output
// use locale.
func NewServer(r Reader, locale, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{backend: r, locale: locale, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("scorecard", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.reviewScoreTool())
	srv.AddTool(s.reviewShowTool())
	srv.AddTool(s.appealStatusTool())
	srv.AddTool(s.listReviewsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// load fetches a review and its scorecard.
func (s *Server) load(ctx context.Context, reviewID string) (*models.Scorecard, *models.Review, error) {
	review, err := s.backend.GetReview(ctx, reviewID)
	if err != nil {
		return nil, nil, err
	}
	sc, err := s.backend.GetScorecard(ctx, review.ScorecardID)
	if err != nil {
		return nil, nil, err
	}
	return sc, models.NewNormalizer(s.locale).Review(review), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// scorecard_review_score
func (s *Server) reviewScoreTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("scorecard_review_score",
		mcp.WithDescription("Compute the weighted score and completion progress of a review, with per-group and per-section breakdown. Also returns the scores stored on the review."),
		mcp.WithString("review_id", mcp.Required(), mcp.Description("Review ID")),
	)
	return tool, s.handleReviewScore
}

func (s *Server) handleReviewScore(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reviewID, err := request.RequireString("review_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: review_id"), nil
	}
	sc, review, err := s.load(ctx, reviewID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load review: %v", err)), nil
	}

	res := scoring.Compute(sc, scoring.EffectiveAnswers(review.ReviewItems))
	initial := scoring.Score(sc, scoring.InitialAnswers(review.ReviewItems))

	type out struct {
		ReviewID      string                `json:"review_id"`
		Scorecard     string                `json:"scorecard"`
		Committed     bool                  `json:"committed"`
		Score         float64               `json:"score"`
		InitialScore  float64               `json:"initial_score"`
		StoredFinal   float64               `json:"stored_final_score"`
		StoredInitial float64               `json:"stored_initial_score"`
		Progress      int                   `json:"progress"`
		Answered      int                   `json:"answered"`
		Questions     int                   `json:"questions"`
		Groups        []scoring.GroupResult `json:"groups"`
	}
	return jsonResult(out{
		ReviewID:      review.ID,
		Scorecard:     sc.Name,
		Committed:     review.Committed,
		Score:         res.Total,
		InitialScore:  initial,
		StoredFinal:   review.FinalScore,
		StoredInitial: review.InitialScore,
		Progress:      res.Progress,
		Answered:      res.Answered,
		Questions:     res.Count,
		Groups:        res.Groups,
	})
}

// scorecard_review_show
func (s *Server) reviewShowTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("scorecard_review_show",
		mcp.WithDescription("Show a review question by question: scorecard hierarchy, effective answers, comments in sort order, and any appeal on each comment."),
		mcp.WithString("review_id", mcp.Required(), mcp.Description("Review ID")),
	)
	return tool, s.handleReviewShow
}

func (s *Server) handleReviewShow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reviewID, err := request.RequireString("review_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: review_id"), nil
	}
	sc, review, err := s.load(ctx, reviewID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load review: %v", err)), nil
	}

	type commentOut struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Content string `json:"content"`
		Appeal  string `json:"appeal,omitempty"`
	}
	type questionOut struct {
		ID             string       `json:"id"`
		Group          string       `json:"group"`
		Section        string       `json:"section"`
		Description    string       `json:"description"`
		Type           string       `json:"type"`
		Weight         float64      `json:"weight"`
		Answer         string       `json:"answer"`
		InitialAnswer  string       `json:"initial_answer"`
		ManagerComment string       `json:"manager_comment,omitempty"`
		Comments       []commentOut `json:"comments"`
	}
	type out struct {
		ReviewID  string        `json:"review_id"`
		Scorecard string        `json:"scorecard"`
		Committed bool          `json:"committed"`
		Updated   string        `json:"updated,omitempty"`
		Questions []questionOut `json:"questions"`
	}

	items := make(map[string]*models.ReviewItem, len(review.ReviewItems))
	for _, it := range review.ReviewItems {
		items[it.ScorecardQuestionID] = it
	}
	wf := appeal.New(nil)
	wf.Load(sc, review)

	result := out{ReviewID: review.ID, Scorecard: sc.Name, Committed: review.Committed, Updated: review.UpdatedAtString}
	for _, g := range sc.Groups {
		for _, sec := range g.Sections {
			for _, q := range sec.Questions {
				qo := questionOut{
					ID: q.ID, Group: g.Name, Section: sec.Name,
					Description: q.Description, Type: string(q.Type), Weight: q.Weight,
					Comments: []commentOut{},
				}
				if it, ok := items[q.ID]; ok {
					qo.Answer = it.EffectiveAnswer()
					qo.InitialAnswer = it.InitialAnswer
					if it.ManagerComment != nil {
						qo.ManagerComment = *it.ManagerComment
					}
					for _, c := range it.ReviewItemComments {
						if c.ID == "" && c.Content == "" {
							continue
						}
						co := commentOut{ID: c.ID, Type: string(c.Type), Content: c.Content}
						if st := wf.Status(c.ID); st.State != appeal.StateNone {
							co.Appeal = st.State.String()
						}
						qo.Comments = append(qo.Comments, co)
					}
				}
				result.Questions = append(result.Questions, qo)
			}
		}
	}
	return jsonResult(result)
}

// scorecard_appeal_status
func (s *Server) appealStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("scorecard_appeal_status",
		mcp.WithDescription("List the appeals on a review with their state (pending, granted, denied) and response. Optionally restrict to one comment."),
		mcp.WithString("review_id", mcp.Required(), mcp.Description("Review ID")),
		mcp.WithString("comment_id", mcp.Description("Only report this review item comment")),
	)
	return tool, s.handleAppealStatus
}

type appealOut struct {
	CommentID string `json:"comment_id"`
	AppealID  string `json:"appeal_id,omitempty"`
	State     string `json:"state"`
	Content   string `json:"content,omitempty"`
	Response  string `json:"response,omitempty"`
	Granted   *bool  `json:"granted,omitempty"`
}

func toAppealOut(commentID string, st appeal.Status) appealOut {
	o := appealOut{CommentID: commentID, State: st.State.String()}
	if st.Appeal != nil {
		o.AppealID = st.Appeal.ID
		o.Content = st.Appeal.Content
		if r := st.Appeal.AppealResponse; r != nil {
			o.Response = r.Content
			granted := r.Success
			o.Granted = &granted
		}
	}
	return o
}

func (s *Server) handleAppealStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reviewID, err := request.RequireString("review_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: review_id"), nil
	}
	commentID := request.GetString("comment_id", "")

	sc, review, err := s.load(ctx, reviewID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load review: %v", err)), nil
	}

	wf := appeal.New(nil)
	wf.Load(sc, review)

	if commentID != "" {
		if _, _, ok := review.FindComment(commentID); !ok {
			return mcp.NewToolResultError(fmt.Sprintf("comment not found: %s", commentID)), nil
		}
		return jsonResult([]appealOut{toAppealOut(commentID, wf.Status(commentID))})
	}

	out := []appealOut{}
	for id := range wf.MappingAppeals() {
		out = append(out, toAppealOut(id, wf.Status(id)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommentID < out[j].CommentID })
	return jsonResult(out)
}

// scorecard_list_reviews
func (s *Server) listReviewsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("scorecard_list_reviews",
		mcp.WithDescription("List reviews with their stored scores. Filter by scorecard, submission or committed state."),
		mcp.WithString("scorecard_id", mcp.Description("Filter by scorecard ID")),
		mcp.WithString("submission_id", mcp.Description("Filter by submission ID")),
		mcp.WithString("committed", mcp.Description("Filter by committed state: true or false")),
	)
	return tool, s.handleListReviews
}

func (s *Server) handleListReviews(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.ReviewListFilter{
		ScorecardID:  request.GetString("scorecard_id", ""),
		SubmissionID: request.GetString("submission_id", ""),
	}
	switch request.GetString("committed", "") {
	case "":
	case "true":
		b := true
		filter.Committed = &b
	case "false":
		b := false
		filter.Committed = &b
	default:
		return mcp.NewToolResultError("committed must be true or false"), nil
	}

	reviews, err := s.backend.ListReviews(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list reviews: %v", err)), nil
	}

	type reviewOut struct {
		ID           string  `json:"id"`
		ScorecardID  string  `json:"scorecard_id"`
		SubmissionID string  `json:"submission_id"`
		ResourceID   string  `json:"resource_id"`
		Committed    bool    `json:"committed"`
		FinalScore   float64 `json:"final_score"`
		InitialScore float64 `json:"initial_score"`
	}
	out := make([]reviewOut, len(reviews))
	for i, r := range reviews {
		out[i] = reviewOut{
			ID:           r.ID,
			ScorecardID:  r.ScorecardID,
			SubmissionID: r.SubmissionID,
			ResourceID:   r.ResourceID,
			Committed:    r.Committed,
			FinalScore:   r.FinalScore,
			InitialScore: r.InitialScore,
		}
	}
	return jsonResult(out)
}
