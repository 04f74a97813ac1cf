// Package reviewform holds the editable state of a review scorecard form:
// per-question answers and ordered comments, dirty and touched tracking,
// and the draft / complete save intents.
package reviewform

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joescharf/scorecard/internal/models"
	"github.com/joescharf/scorecard/internal/scoring"
)

var (
	ErrReadOnly       = eris.New("review form is not in edit mode")
	ErrSaveInProgress = eris.New("review save already in progress")
	ErrUnknownItem    = eris.New("no review item for question")
	ErrCommentIndex   = eris.New("comment index out of range")
	ErrNotLoaded      = eris.New("review form has no review loaded")
)

// Saver persists review updates.
type Saver interface {
	PatchReview(ctx context.Context, id string, patch *models.ReviewPatch) (*models.Review, error)
}

// ErrorReporter surfaces failed network actions to the user.
type ErrorReporter interface {
	HandleError(err error)
}

// Notifier shows a confirmation after a successful save.
type Notifier interface {
	Notify(msg string)
}

// SaveState is the review submission gate.
type SaveState int

const (
	SaveIdle SaveState = iota
	SaveSaving
)

func (s SaveState) String() string {
	if s == SaveSaving {
		return "saving"
	}
	return "idle"
}

// Comment is the editable form of a review item comment.
type Comment struct {
	ID        string
	Content   string
	Type      models.CommentType
	SortOrder int
}

// Entry is the editable form of one review item.
type Entry struct {
	ItemID         string
	QuestionID     string
	InitialAnswer  string
	FinalAnswer    *string
	ManagerComment *string
	Comments       []Comment
}

func (e Entry) clone() Entry {
	out := e
	out.Comments = slices.Clone(e.Comments)
	if e.FinalAnswer != nil {
		fa := *e.FinalAnswer
		out.FinalAnswer = &fa
	}
	if e.ManagerComment != nil {
		mc := *e.ManagerComment
		out.ManagerComment = &mc
	}
	return out
}

func (e Entry) equal(o Entry) bool {
	return e.ItemID == o.ItemID &&
		e.QuestionID == o.QuestionID &&
		e.InitialAnswer == o.InitialAnswer &&
		ptrEqual(e.FinalAnswer, o.FinalAnswer) &&
		ptrEqual(e.ManagerComment, o.ManagerComment) &&
		slices.Equal(e.Comments, o.Comments)
}

func ptrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneEntries(in []Entry) []Entry {
	out := make([]Entry, len(in))
	for i, e := range in {
		out[i] = e.clone()
	}
	return out
}

func sortComments(cs []Comment) {
	slices.SortStableFunc(cs, func(a, b Comment) int {
		return cmp.Compare(a.SortOrder, b.SortOrder)
	})
}

// Option configures a Controller.
type Option func(*Controller)

// WithReporter sets the collaborator that reports failed saves.
func WithReporter(r ErrorReporter) Option {
	return func(c *Controller) { c.reporter = r }
}

// WithNotifier sets the collaborator that confirms successful saves.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithLogger overrides the global zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// Controller owns the form state for a single review.
type Controller struct {
	saver    Saver
	reporter ErrorReporter
	notifier Notifier
	log      *zap.Logger

	mu        sync.Mutex
	scorecard *models.Scorecard
	review    *models.Review
	edit      bool
	entries   []Entry
	baseline  []Entry
	touched   map[string]bool
	strict    bool // a MarkComplete attempt failed validation
	state     SaveState
	result    *scoring.Result
}

// New returns a Controller that saves through saver.
func New(saver Saver, opts ...Option) *Controller {
	c := &Controller{
		saver:   saver,
		log:     zap.L(),
		touched: map[string]bool{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Load initializes the form from a fetched review. Entries follow the
// review's reviewItems order. In view mode the form is read-only.
func (c *Controller) Load(sc *models.Scorecard, review *models.Review, edit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.scorecard = sc
	c.review = review
	c.edit = edit
	c.entries = entriesFromReview(review)
	c.baseline = cloneEntries(c.entries)
	c.touched = map[string]bool{}
	c.strict = false
	c.state = SaveIdle
	c.recompute()
}

func entriesFromReview(r *models.Review) []Entry {
	n := &models.Normalizer{}
	entries := make([]Entry, 0, len(r.ReviewItems))
	for _, raw := range r.ReviewItems {
		it := n.Item(raw)
		e := Entry{
			ItemID:         it.ID,
			QuestionID:     it.ScorecardQuestionID,
			InitialAnswer:  it.InitialAnswer,
			FinalAnswer:    it.FinalAnswer,
			ManagerComment: it.ManagerComment,
		}
		for _, rc := range it.ReviewItemComments {
			e.Comments = append(e.Comments, Comment{
				ID:        rc.ID,
				Content:   rc.Content,
				Type:      rc.Type,
				SortOrder: rc.SortOrder,
			})
		}
		entries = append(entries, e)
	}
	return entries
}

// IsEdit reports whether the form is editable.
func (c *Controller) IsEdit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.edit
}

// IsDirty reports whether the form differs from the last loaded or saved values.
func (c *Controller) IsDirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty()
}

func (c *Controller) dirty() bool {
	return !slices.EqualFunc(c.entries, c.baseline, Entry.equal)
}

// IsSaving reports whether a save is in flight. Submit controls stay
// disabled while it is true.
func (c *Controller) IsSaving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == SaveSaving
}

// State returns the save gate state.
func (c *Controller) State() SaveState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Review returns the review as last loaded or saved.
func (c *Controller) Review() *models.Review {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.review
}

// Entries returns a copy of the current form entries.
func (c *Controller) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneEntries(c.entries)
}

// Result returns the score and progress for the current form state.
func (c *Controller) Result() *scoring.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Answers returns the effective answer per question. In edit mode the
// in-form value wins, falling back to finalAnswer. In view mode the stored
// finalAnswer wins over initialAnswer.
func (c *Controller) Answers() scoring.Answers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answers()
}

func (c *Controller) answers() scoring.Answers {
	a := make(scoring.Answers, len(c.entries))
	for _, e := range c.entries {
		v := strings.TrimSpace(e.InitialAnswer)
		final := ""
		if e.FinalAnswer != nil {
			final = strings.TrimSpace(*e.FinalAnswer)
		}
		switch {
		case c.edit && v != "":
		case final != "":
			v = final
		}
		a[e.QuestionID] = v
	}
	return a
}

func (c *Controller) recompute() {
	if c.scorecard == nil {
		c.result = &scoring.Result{}
		return
	}
	c.result = scoring.Compute(c.scorecard, c.answers())
}

func (c *Controller) entryIndex(questionID string) (int, error) {
	if c.review == nil {
		return -1, ErrNotLoaded
	}
	if !c.edit {
		return -1, ErrReadOnly
	}
	for i, e := range c.entries {
		if e.QuestionID == questionID {
			return i, nil
		}
	}
	return -1, eris.Wrapf(ErrUnknownItem, "question %s", questionID)
}

// SetAnswer changes the answer for a question and recomputes the score.
func (c *Controller) SetAnswer(questionID, answer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, err := c.entryIndex(questionID)
	if err != nil {
		return err
	}
	c.entries[i].InitialAnswer = answer
	c.recompute()
	return nil
}

// SetComment replaces the content and type of the j-th comment of a question.
func (c *Controller) SetComment(questionID string, j int, content string, typ models.CommentType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, err := c.entryIndex(questionID)
	if err != nil {
		return err
	}
	if j < 0 || j >= len(c.entries[i].Comments) {
		return eris.Wrapf(ErrCommentIndex, "comment %d of question %s", j, questionID)
	}
	c.entries[i].Comments[j].Content = content
	c.entries[i].Comments[j].Type = typ
	return nil
}

// AddComment appends a comment after the last one. A lone blank
// placeholder row is filled instead of adding a new row.
func (c *Controller) AddComment(questionID, content string, typ models.CommentType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, err := c.entryIndex(questionID)
	if err != nil {
		return err
	}
	cs := c.entries[i].Comments
	if len(cs) == 1 && cs[0].ID == "" && cs[0].Content == "" {
		cs[0].Content = content
		cs[0].Type = typ
		return nil
	}
	next := 0
	for _, cm := range cs {
		next = max(next, cm.SortOrder+1)
	}
	cs = append(cs, Comment{Content: content, Type: typ, SortOrder: next})
	sortComments(cs)
	c.entries[i].Comments = cs
	return nil
}

// RemoveComment deletes the j-th comment of a question. Removing the last
// comment leaves a blank placeholder row.
func (c *Controller) RemoveComment(questionID string, j int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, err := c.entryIndex(questionID)
	if err != nil {
		return err
	}
	cs := c.entries[i].Comments
	if j < 0 || j >= len(cs) {
		return eris.Wrapf(ErrCommentIndex, "comment %d of question %s", j, questionID)
	}
	cs = slices.Delete(cs, j, j+1)
	if len(cs) == 0 {
		cs = []Comment{{}}
	}
	c.entries[i].Comments = cs
	return nil
}

// Touch marks a field as visited so its validation message is shown.
func (c *Controller) Touch(field string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touched[field] = true
}

// Touched reports whether a field has been visited.
func (c *Controller) Touched(field string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.touched[field]
}

func (c *Controller) touchAll() {
	for i, e := range c.entries {
		c.touched[AnswerField(i)] = true
		for j := range e.Comments {
			c.touched[CommentField(i, j)] = true
		}
	}
	if c.scorecard != nil {
		for _, q := range c.scorecard.Questions() {
			c.touched[QuestionField(q.ID)] = true
		}
	}
}

// Errors returns the validation errors for touched fields. Completion
// rules apply once a MarkComplete attempt has failed.
func (c *Controller) Errors() ValidationErrors {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scorecard == nil {
		return nil
	}
	var visible ValidationErrors
	for _, fe := range Validate(c.scorecard, c.entries, c.strict) {
		if c.touched[fe.Field] {
			visible = append(visible, fe)
		}
	}
	return visible
}

// SaveDraft persists the form as-is with committed=false. Only
// type-parseability is checked.
func (c *Controller) SaveDraft(ctx context.Context) error {
	return c.save(ctx, false)
}

// MarkComplete validates the full form and, only if it is valid, persists
// it with committed=true. A failed validation touches every field and
// issues no request.
func (c *Controller) MarkComplete(ctx context.Context) error {
	return c.save(ctx, true)
}

func (c *Controller) save(ctx context.Context, commit bool) error {
	c.mu.Lock()
	if c.review == nil || c.scorecard == nil {
		c.mu.Unlock()
		return ErrNotLoaded
	}
	if !c.edit {
		c.mu.Unlock()
		return ErrReadOnly
	}
	if c.state == SaveSaving {
		c.mu.Unlock()
		return ErrSaveInProgress
	}
	if errs := Validate(c.scorecard, c.entries, commit); len(errs) > 0 {
		if commit {
			c.strict = true
			c.touchAll()
		} else {
			for _, fe := range errs {
				c.touched[fe.Field] = true
			}
		}
		c.mu.Unlock()
		return errs
	}

	snapshot := cloneEntries(c.entries)
	patch := buildPatch(c.scorecard, snapshot, commit)
	id := c.review.ID
	c.state = SaveSaving
	c.mu.Unlock()

	c.log.Debug("saving review", zap.String("review_id", id), zap.Bool("committed", commit))
	saved, err := c.saver.PatchReview(ctx, id, patch)

	c.mu.Lock()
	c.state = SaveIdle
	if err != nil {
		c.mu.Unlock()
		c.log.Debug("review save failed", zap.String("review_id", id), zap.Error(err))
		if c.reporter != nil {
			c.reporter.HandleError(err)
		}
		return eris.Wrap(err, "save review")
	}

	if saved != nil {
		c.review = saved
		c.entries = entriesFromReview(saved)
	} else {
		c.review.Committed = commit
		c.entries = snapshot
	}
	c.baseline = cloneEntries(c.entries)
	c.touched = map[string]bool{}
	c.strict = false
	if commit {
		c.edit = false
	}
	c.recompute()
	c.mu.Unlock()

	if c.notifier != nil {
		if commit {
			c.notifier.Notify("Review marked as complete")
		} else {
			c.notifier.Notify("Review saved as draft")
		}
	}
	return nil
}

// buildPatch assembles the PATCH body. Scores are computed here so the
// backend is never asked to recompute them.
func buildPatch(sc *models.Scorecard, entries []Entry, commit bool) *models.ReviewPatch {
	initial := make(scoring.Answers, len(entries))
	final := make(scoring.Answers, len(entries))
	items := make([]models.ReviewItemPatch, 0, len(entries))
	for _, e := range entries {
		answer := strings.TrimSpace(e.InitialAnswer)
		initial[e.QuestionID] = answer
		final[e.QuestionID] = answer
		if e.FinalAnswer != nil && strings.TrimSpace(*e.FinalAnswer) != "" {
			final[e.QuestionID] = strings.TrimSpace(*e.FinalAnswer)
		}

		ip := models.ReviewItemPatch{
			ScorecardQuestionID: e.QuestionID,
			InitialAnswer:       answer,
			FinalAnswer:         e.FinalAnswer,
			ManagerComment:      e.ManagerComment,
			ReviewItemComments:  []models.ReviewCommentPatch{},
		}
		for _, cm := range e.Comments {
			if strings.TrimSpace(cm.Content) == "" {
				continue
			}
			typ := cm.Type
			if typ == "" {
				typ = models.CommentTypeComment
			}
			ip.ReviewItemComments = append(ip.ReviewItemComments, models.ReviewCommentPatch{
				Content:   cm.Content,
				Type:      typ,
				SortOrder: cm.SortOrder,
			})
		}
		items = append(items, ip)
	}

	initialScore := scoring.Score(sc, initial)
	finalScore := scoring.Score(sc, final)
	return &models.ReviewPatch{
		Committed:    &commit,
		InitialScore: &initialScore,
		FinalScore:   &finalScore,
		ReviewItems:  items,
	}
}
