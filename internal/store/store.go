package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/joescharf/scorecard/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = eris.New("not found")
	// ErrConflict is returned when a write would violate a uniqueness rule,
	// such as a second appeal on the same comment.
	ErrConflict = eris.New("conflict")
)

// ReviewListFilter specifies filters for listing reviews.
type ReviewListFilter struct {
	ScorecardID  string
	SubmissionID string
	ResourceID   string
	Committed    *bool
}

// Store defines the persistence interface for scorecards and reviews.
type Store interface {
	// Scorecards
	CreateScorecard(ctx context.Context, sc *models.Scorecard) error
	GetScorecard(ctx context.Context, id string) (*models.Scorecard, error)
	ListScorecards(ctx context.Context) ([]*models.Scorecard, error)

	// Reviews
	CreateReview(ctx context.Context, req *models.NewReviewRequest) (*models.Review, error)
	GetReview(ctx context.Context, id string) (*models.Review, error)
	ListReviews(ctx context.Context, filter ReviewListFilter) ([]*models.Review, error)
	PatchReview(ctx context.Context, id string, patch *models.ReviewPatch) (*models.Review, error)

	// Appeals
	CreateAppeal(ctx context.Context, req *models.AppealRequest) (*models.AppealInfo, error)
	DeleteAppeal(ctx context.Context, id string) error
	CreateAppealResponse(ctx context.Context, req *models.AppealResponseRequest) (*models.AppealResponse, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
