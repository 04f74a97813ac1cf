package models

// ReviewCommentPatch is a comment as sent in a review PATCH body.
type ReviewCommentPatch struct {
	Content   string      `json:"content"`
	Type      CommentType `json:"type"`
	SortOrder int         `json:"sortOrder"`
}

// ReviewItemPatch is a review item as sent in a review PATCH body. A nil
// ReviewItemComments leaves the stored comments untouched; an empty list
// clears them.
type ReviewItemPatch struct {
	ScorecardQuestionID string               `json:"scorecardQuestionId"`
	InitialAnswer       string               `json:"initialAnswer"`
	FinalAnswer         *string              `json:"finalAnswer,omitempty"`
	ManagerComment      *string              `json:"managerComment,omitempty"`
	ReviewItemComments  []ReviewCommentPatch `json:"reviewItemComments"`
}

// ReviewPatch is the partial or full update body of PATCH review/{id}.
// Nil fields are left untouched.
type ReviewPatch struct {
	Committed    *bool             `json:"committed,omitempty"`
	FinalScore   *float64          `json:"finalScore,omitempty"`
	InitialScore *float64          `json:"initialScore,omitempty"`
	ReviewItems  []ReviewItemPatch `json:"reviewItems,omitempty"`
}

// AppealRequest is the body of POST appeal.
type AppealRequest struct {
	ReviewItemCommentID string `json:"reviewItemCommentId"`
	Content             string `json:"content"`
}

// AppealResponseRequest is the body of POST appealResponse.
type AppealResponseRequest struct {
	AppealID string `json:"appealId"`
	Content  string `json:"content"`
	Success  bool   `json:"success"`
}

// NewReviewRequest is the body of POST review, issued when a reviewer is
// assigned to a submission.
type NewReviewRequest struct {
	ResourceID   string `json:"resourceId"`
	PhaseID      string `json:"phaseId"`
	SubmissionID string `json:"submissionId"`
	ScorecardID  string `json:"scorecardId"`
}
