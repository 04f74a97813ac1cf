package models

// CommentType classifies a review item comment. Values outside the known
// set are kept verbatim rather than rejected.
type CommentType string

const (
	CommentTypeComment                  CommentType = "COMMENT"
	CommentTypeRequired                 CommentType = "REQUIRED"
	CommentTypeRecommended              CommentType = "RECOMMENDED"
	CommentTypeManagerComment           CommentType = "MANAGER_COMMENT"
	CommentTypeAggregationComment       CommentType = "AGGREGATION_COMMENT"
	CommentTypeAggregationReviewComment CommentType = "AGGREGATION_REVIEW_COMMENT"
	CommentTypeSubmitterComment         CommentType = "SUBMITTER_COMMENT"
	CommentTypeFinalFixComment          CommentType = "FINAL_FIX_COMMENT"
	CommentTypeFinalReviewComment       CommentType = "FINAL_REVIEW_COMMENT"
)

var knownCommentTypes = map[CommentType]bool{
	CommentTypeComment:                  true,
	CommentTypeRequired:                 true,
	CommentTypeRecommended:              true,
	CommentTypeManagerComment:           true,
	CommentTypeAggregationComment:       true,
	CommentTypeAggregationReviewComment: true,
	CommentTypeSubmitterComment:         true,
	CommentTypeFinalFixComment:          true,
	CommentTypeFinalReviewComment:       true,
}

// Known reports whether t is one of the enumerated comment types.
func (t CommentType) Known() bool {
	return knownCommentTypes[t]
}

// IsOther reports whether t carries a non-empty value outside the known set.
func (t CommentType) IsOther() bool {
	return t != "" && !t.Known()
}

// AppealResponse is the reviewer or manager answer to an appeal. Success
// records whether the appeal was granted and never changes a stored score.
type AppealResponse struct {
	ID       string `json:"id"`
	AppealID string `json:"appealId"`
	Content  string `json:"content"`
	Success  bool   `json:"success"`
}

// AppealInfo is an appeal raised against a single review item comment.
type AppealInfo struct {
	ID                  string          `json:"id"`
	ReviewItemCommentID string          `json:"reviewItemCommentId"`
	Content             string          `json:"content"`
	AppealResponse      *AppealResponse `json:"appealResponse,omitempty"`
}

// ReviewItemComment is one comment row on a review item.
type ReviewItemComment struct {
	ID        string      `json:"id"`
	Content   string      `json:"content"`
	Type      CommentType `json:"type"`
	SortOrder int         `json:"sortOrder"`
	Appeal    *AppealInfo `json:"appeal,omitempty"`
}

// ReviewItem holds the answer to one scorecard question.
type ReviewItem struct {
	ID                  string               `json:"id"`
	ScorecardQuestionID string               `json:"scorecardQuestionId"`
	InitialAnswer       string               `json:"initialAnswer"`
	FinalAnswer         *string              `json:"finalAnswer,omitempty"`
	ManagerComment      *string              `json:"managerComment,omitempty"`
	ReviewItemComments  []*ReviewItemComment `json:"reviewItemComments"`
}

// EffectiveAnswer returns the manager override when present, otherwise
// the reviewer's initial answer.
func (i *ReviewItem) EffectiveAnswer() string {
	if i.FinalAnswer != nil && *i.FinalAnswer != "" {
		return *i.FinalAnswer
	}
	return i.InitialAnswer
}

// FindComment returns the comment with the given id.
func (i *ReviewItem) FindComment(id string) (*ReviewItemComment, bool) {
	for _, c := range i.ReviewItemComments {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// Review is a reviewer's scorecard submission for one submission.
type Review struct {
	ID              string        `json:"id"`
	ResourceID      string        `json:"resourceId"`
	PhaseID         string        `json:"phaseId"`
	SubmissionID    string        `json:"submissionId"`
	ScorecardID     string        `json:"scorecardId"`
	Committed       bool          `json:"committed"`
	FinalScore      float64       `json:"finalScore"`
	InitialScore    float64       `json:"initialScore"`
	ReviewItems     []*ReviewItem `json:"reviewItems"`
	CreatedAt       string        `json:"createdAt,omitempty"`
	CreatedAtString string        `json:"createdAtString,omitempty"`
	UpdatedAt       string        `json:"updatedAt,omitempty"`
	UpdatedAtString string        `json:"updatedAtString,omitempty"`
}

// FindItem returns the review item with the given id.
func (r *Review) FindItem(id string) (*ReviewItem, bool) {
	for _, it := range r.ReviewItems {
		if it.ID == id {
			return it, true
		}
	}
	return nil, false
}

// FindComment locates a comment anywhere in the review along with its item.
func (r *Review) FindComment(id string) (*ReviewItem, *ReviewItemComment, bool) {
	for _, it := range r.ReviewItems {
		if c, ok := it.FindComment(id); ok {
			return it, c, true
		}
	}
	return nil, nil, false
}
