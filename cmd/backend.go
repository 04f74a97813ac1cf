package cmd

import (
	"context"

	"github.com/spf13/viper"

	"github.com/joescharf/scorecard/internal/appeal"
	"github.com/joescharf/scorecard/internal/client"
	"github.com/joescharf/scorecard/internal/mcp"
	"github.com/joescharf/scorecard/internal/models"
	"github.com/joescharf/scorecard/internal/reviewform"
	"github.com/joescharf/scorecard/internal/store"
)

// backend is what the CLI needs from either the local store or a remote
// server.
type backend interface {
	CreateScorecard(ctx context.Context, sc *models.Scorecard) error
	GetScorecard(ctx context.Context, id string) (*models.Scorecard, error)
	ListScorecards(ctx context.Context) ([]*models.Scorecard, error)

	CreateReview(ctx context.Context, req *models.NewReviewRequest) (*models.Review, error)
	GetReview(ctx context.Context, id string) (*models.Review, error)
	ListReviews(ctx context.Context, filter store.ReviewListFilter) ([]*models.Review, error)
	PatchReview(ctx context.Context, id string, patch *models.ReviewPatch) (*models.Review, error)

	CreateAppeal(ctx context.Context, req *models.AppealRequest) (*models.AppealInfo, error)
	DeleteAppeal(ctx context.Context, id string) error
	CreateAppealResponse(ctx context.Context, req *models.AppealResponseRequest) (*models.AppealResponse, error)
}

var (
	_ backend          = store.Store(nil)
	_ backend          = (*client.Client)(nil)
	_ appeal.Backend   = backend(nil)
	_ reviewform.Saver = backend(nil)
	_ mcp.Reader       = backend(nil)
)

// loadReview fetches a review and the scorecard it is scored against. Dates
// are formatted for display.locale.
func loadReview(ctx context.Context, b backend, id string) (*models.Scorecard, *models.Review, error) {
	review, err := b.GetReview(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	sc, err := b.GetScorecard(ctx, review.ScorecardID)
	if err != nil {
		return nil, nil, err
	}
	return sc, models.NewNormalizer(viper.GetString("display.locale")).Review(review), nil
}
