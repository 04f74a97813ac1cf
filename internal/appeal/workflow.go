// Package appeal manages appeals raised against review item comments,
// their responses, and manager comments on review items. Every action
// tracks its own busy flag keyed by the id it mutates, so one row can be
// in flight without blocking the rest of the scorecard.
package appeal

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joescharf/scorecard/internal/models"
	"github.com/joescharf/scorecard/internal/scoring"
)

var (
	ErrBusy            = eris.New("another action is in flight for this row")
	ErrAppealExists    = eris.New("comment already has an appeal")
	ErrAppealNotFound  = eris.New("appeal not found")
	ErrCommentNotFound = eris.New("review item comment not found")
	ErrItemNotFound    = eris.New("review item not found")
	ErrNotCommitted    = eris.New("appeals can only be raised on a committed review")
	ErrNotLoaded       = eris.New("no review loaded")
	ErrEmptyContent    = eris.New("content must not be empty")
)

// Backend is the persistence collaborator used by the workflow.
type Backend interface {
	CreateAppeal(ctx context.Context, req *models.AppealRequest) (*models.AppealInfo, error)
	DeleteAppeal(ctx context.Context, id string) error
	CreateAppealResponse(ctx context.Context, req *models.AppealResponseRequest) (*models.AppealResponse, error)
	PatchReview(ctx context.Context, id string, patch *models.ReviewPatch) (*models.Review, error)
}

// ErrorReporter surfaces failed network actions to the user.
type ErrorReporter interface {
	HandleError(err error)
}

// State is the appeal state of a single comment.
type State int

const (
	StateNone State = iota
	StatePending
	StateGranted
	StateDenied
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateGranted:
		return "granted"
	case StateDenied:
		return "denied"
	default:
		return "none"
	}
}

// Status is what the renderer needs to draw a comment's appeal controls.
type Status struct {
	State  State
	Appeal *models.AppealInfo
	Busy   bool
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithReporter sets the collaborator that reports failed actions.
func WithReporter(r ErrorReporter) Option {
	return func(w *Workflow) { w.reporter = r }
}

// WithLogger overrides the global zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Workflow) { w.log = l }
}

// Workflow tracks appeals for one review.
type Workflow struct {
	backend  Backend
	reporter ErrorReporter
	log      *zap.Logger

	mu             sync.Mutex
	scorecard      *models.Scorecard
	review         *models.Review
	appeals        map[string]*models.AppealInfo // comment id -> live appeal
	savingComments map[string]bool
	savingAppeals  map[string]bool
	savingItems    map[string]bool
}

// New returns a Workflow backed by backend.
func New(backend Backend, opts ...Option) *Workflow {
	w := &Workflow{
		backend:        backend,
		log:            zap.L(),
		appeals:        map[string]*models.AppealInfo{},
		savingComments: map[string]bool{},
		savingAppeals:  map[string]bool{},
		savingItems:    map[string]bool{},
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Load indexes the appeals of a review. The scorecard is used to rescore
// the review when an adjudication overrides an answer; it may be nil.
func (w *Workflow) Load(sc *models.Scorecard, review *models.Review) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.scorecard = sc
	w.review = models.NewNormalizer("").Review(review)
	w.appeals = map[string]*models.AppealInfo{}
	w.savingComments = map[string]bool{}
	w.savingAppeals = map[string]bool{}
	w.savingItems = map[string]bool{}
	if w.review == nil {
		return
	}
	for _, it := range w.review.ReviewItems {
		for _, c := range it.ReviewItemComments {
			if c.ID != "" && c.Appeal != nil {
				w.appeals[c.ID] = c.Appeal
			}
		}
	}
}

// Review returns the workflow's copy of the review.
func (w *Workflow) Review() *models.Review {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.review
}

// Appeal returns the live appeal on a comment, if any.
func (w *Workflow) Appeal(commentID string) (*models.AppealInfo, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	a, ok := w.appeals[commentID]
	return a, ok
}

// MappingAppeals returns a copy of the comment id to appeal index.
func (w *Workflow) MappingAppeals() map[string]*models.AppealInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]*models.AppealInfo, len(w.appeals))
	for k, v := range w.appeals {
		out[k] = v
	}
	return out
}

// Status returns the appeal state and busy flag for a comment.
func (w *Workflow) Status(commentID string) Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := Status{Busy: w.savingComments[commentID]}
	a, ok := w.appeals[commentID]
	if !ok {
		return st
	}
	st.Appeal = a
	st.Busy = st.Busy || w.savingAppeals[a.ID]
	switch {
	case a.AppealResponse == nil:
		st.State = StatePending
	case a.AppealResponse.Success:
		st.State = StateGranted
	default:
		st.State = StateDenied
	}
	return st
}

// IsCommentSaving reports whether an appeal is being raised on a comment.
func (w *Workflow) IsCommentSaving(commentID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.savingComments[commentID]
}

// IsAppealSaving reports whether an appeal is being deleted or answered.
func (w *Workflow) IsAppealSaving(appealID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.savingAppeals[appealID]
}

// IsItemSaving reports whether a manager comment is being saved on an item.
func (w *Workflow) IsItemSaving(itemID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.savingItems[itemID]
}

// acquire sets busy[id] and returns a release func. Callers hold w.mu.
func acquire(busy map[string]bool, id string) (func(), error) {
	if busy[id] {
		return nil, ErrBusy
	}
	busy[id] = true
	return func() { delete(busy, id) }, nil
}

func (w *Workflow) fail(err error, msg string) error {
	w.log.Debug("appeal action failed", zap.String("action", msg), zap.Error(err))
	if w.reporter != nil {
		w.reporter.HandleError(err)
	}
	return eris.Wrap(err, msg)
}

// RaiseAppeal creates an appeal on a comment of a committed review. A
// comment carries at most one live appeal.
func (w *Workflow) RaiseAppeal(ctx context.Context, content, commentID string) (*models.AppealInfo, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	w.mu.Lock()
	if w.review == nil {
		w.mu.Unlock()
		return nil, ErrNotLoaded
	}
	if !w.review.Committed {
		w.mu.Unlock()
		return nil, ErrNotCommitted
	}
	if commentID == "" {
		w.mu.Unlock()
		return nil, ErrCommentNotFound
	}
	if _, _, ok := w.review.FindComment(commentID); !ok {
		w.mu.Unlock()
		return nil, eris.Wrapf(ErrCommentNotFound, "comment %s", commentID)
	}
	if _, exists := w.appeals[commentID]; exists {
		w.mu.Unlock()
		return nil, eris.Wrapf(ErrAppealExists, "comment %s", commentID)
	}
	release, err := acquire(w.savingComments, commentID)
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}

	a, err := w.backend.CreateAppeal(ctx, &models.AppealRequest{ReviewItemCommentID: commentID, Content: content})

	w.mu.Lock()
	defer w.mu.Unlock()
	release()
	if err != nil {
		return nil, w.fail(err, "raise appeal")
	}
	if a.ReviewItemCommentID == "" {
		a.ReviewItemCommentID = commentID
	}
	w.appeals[commentID] = a
	if _, c, ok := w.review.FindComment(commentID); ok {
		c.Appeal = a
	}
	return a, nil
}

// DeleteAppeal removes an appeal whether or not it has a response.
func (w *Workflow) DeleteAppeal(ctx context.Context, appealID string) error {
	w.mu.Lock()
	commentID, ok := w.commentForAppeal(appealID)
	if !ok {
		w.mu.Unlock()
		return eris.Wrapf(ErrAppealNotFound, "appeal %s", appealID)
	}
	release, err := acquire(w.savingAppeals, appealID)
	w.mu.Unlock()
	if err != nil {
		return err
	}

	err = w.backend.DeleteAppeal(ctx, appealID)

	w.mu.Lock()
	defer w.mu.Unlock()
	release()
	if err != nil {
		return w.fail(err, "delete appeal")
	}
	delete(w.appeals, commentID)
	if _, c, ok := w.review.FindComment(commentID); ok {
		c.Appeal = nil
	}
	return nil
}

// ResponseInput is a reviewer or manager answer to an appeal. When
// FinalAnswer is set, the review item's finalAnswer is overridden and the
// review's finalScore recomputed.
type ResponseInput struct {
	AppealID    string
	ItemID      string
	Content     string
	Success     bool
	FinalAnswer *string
}

// AddAppealResponse attaches or replaces the response on an existing appeal.
func (w *Workflow) AddAppealResponse(ctx context.Context, in ResponseInput) (*models.AppealResponse, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, ErrEmptyContent
	}

	w.mu.Lock()
	if w.review == nil {
		w.mu.Unlock()
		return nil, ErrNotLoaded
	}
	commentID, ok := w.commentForAppeal(in.AppealID)
	if !ok {
		w.mu.Unlock()
		return nil, eris.Wrapf(ErrAppealNotFound, "appeal %s", in.AppealID)
	}
	item, found := w.review.FindItem(in.ItemID)
	if !found {
		w.mu.Unlock()
		return nil, eris.Wrapf(ErrItemNotFound, "item %s", in.ItemID)
	}
	var patch *models.ReviewPatch
	if in.FinalAnswer != nil {
		patch = w.overridePatch(item, strings.TrimSpace(*in.FinalAnswer))
	}
	reviewID := w.review.ID
	release, err := acquire(w.savingAppeals, in.AppealID)
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}

	resp, err := w.backend.CreateAppealResponse(ctx, &models.AppealResponseRequest{
		AppealID: in.AppealID,
		Content:  in.Content,
		Success:  in.Success,
	})
	var saved *models.Review
	if err == nil && patch != nil {
		saved, err = w.backend.PatchReview(ctx, reviewID, patch)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	release()
	if resp != nil {
		if a, ok := w.appeals[commentID]; ok {
			a.AppealResponse = resp
		}
	}
	if err != nil {
		return resp, w.fail(err, "add appeal response")
	}
	if saved != nil {
		w.mergeItem(saved, item.ID)
	} else if patch != nil {
		item.FinalAnswer = patch.ReviewItems[0].FinalAnswer
		if patch.FinalScore != nil {
			w.review.FinalScore = *patch.FinalScore
		}
	}
	return resp, nil
}

// AddManagerComment sets the manager comment on a review item. It does not
// require an appeal.
func (w *Workflow) AddManagerComment(ctx context.Context, content, itemID string) error {
	w.mu.Lock()
	if w.review == nil {
		w.mu.Unlock()
		return ErrNotLoaded
	}
	item, ok := w.review.FindItem(itemID)
	if !ok {
		w.mu.Unlock()
		return eris.Wrapf(ErrItemNotFound, "item %s", itemID)
	}
	mc := content
	patch := &models.ReviewPatch{ReviewItems: []models.ReviewItemPatch{{
		ScorecardQuestionID: item.ScorecardQuestionID,
		InitialAnswer:       item.InitialAnswer,
		FinalAnswer:         item.FinalAnswer,
		ManagerComment:      &mc,
	}}}
	reviewID := w.review.ID
	release, err := acquire(w.savingItems, itemID)
	w.mu.Unlock()
	if err != nil {
		return err
	}

	saved, err := w.backend.PatchReview(ctx, reviewID, patch)

	w.mu.Lock()
	defer w.mu.Unlock()
	release()
	if err != nil {
		return w.fail(err, "add manager comment")
	}
	if saved != nil {
		w.mergeItem(saved, itemID)
	} else {
		item.ManagerComment = &mc
	}
	return nil
}

func (w *Workflow) commentForAppeal(appealID string) (string, bool) {
	for commentID, a := range w.appeals {
		if a.ID == appealID {
			return commentID, true
		}
	}
	return "", false
}

// overridePatch builds the patch for a manager answer override, rescoring
// the review with the new answer when the scorecard is known.
func (w *Workflow) overridePatch(item *models.ReviewItem, finalAnswer string) *models.ReviewPatch {
	patch := &models.ReviewPatch{ReviewItems: []models.ReviewItemPatch{{
		ScorecardQuestionID: item.ScorecardQuestionID,
		InitialAnswer:       item.InitialAnswer,
		FinalAnswer:         &finalAnswer,
		ManagerComment:      item.ManagerComment,
	}}}
	if w.scorecard != nil {
		answers := scoring.EffectiveAnswers(w.review.ReviewItems)
		if finalAnswer != "" {
			answers[item.ScorecardQuestionID] = finalAnswer
		} else {
			answers[item.ScorecardQuestionID] = item.InitialAnswer
		}
		score := scoring.Score(w.scorecard, answers)
		patch.FinalScore = &score
	}
	return patch
}

// mergeItem copies the answer fields of one item from a saved review,
// keeping the workflow's comment and appeal index intact.
func (w *Workflow) mergeItem(saved *models.Review, itemID string) {
	src, ok := saved.FindItem(itemID)
	if !ok {
		return
	}
	dst, ok := w.review.FindItem(itemID)
	if !ok {
		return
	}
	norm := models.NewNormalizer("").Item(src)
	dst.InitialAnswer = norm.InitialAnswer
	dst.FinalAnswer = norm.FinalAnswer
	dst.ManagerComment = norm.ManagerComment
	w.review.FinalScore = saved.FinalScore
	w.review.InitialScore = saved.InitialScore
}
