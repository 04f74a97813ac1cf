package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rotisserie/eris"

	"github.com/joescharf/scorecard/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, eris.Wrap(err, "create db directory")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, eris.Wrap(err, "open database")
	}

	// SQLite only supports one concurrent writer. A single connection
	// serializes all access, so every query inside a transaction must go
	// through the *sql.Tx or it will block forever.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "exec %s", pragma)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return eris.Wrap(err, "create migrations table")
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return eris.Wrap(err, "read migrations dir")
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return eris.Wrapf(err, "check migration %s", name)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "read migration %s", name)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "apply migration %s", name)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return eris.Wrapf(err, "record migration %s", name)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Scorecards ---

// CreateScorecard stores a scorecard definition, assigning ids to the
// scorecard and to any group, section or question that lacks one.
func (s *SQLiteStore) CreateScorecard(ctx context.Context, sc *models.Scorecard) error {
	if strings.TrimSpace(sc.Name) == "" {
		return eris.New("scorecard name is required")
	}
	if sc.ID == "" {
		sc.ID = newULID()
	}
	for _, g := range sc.Groups {
		if g.ID == "" {
			g.ID = newULID()
		}
		for _, sec := range g.Sections {
			if sec.ID == "" {
				sec.ID = newULID()
			}
			for _, q := range sec.Questions {
				if q.ID == "" {
					q.ID = newULID()
				}
			}
		}
	}

	def, err := json.Marshal(sc.Groups)
	if err != nil {
		return eris.Wrap(err, "encode scorecard definition")
	}
	ts := time.Now().UTC().Truncate(time.Second)
	sc.CreatedAt = ts
	sc.UpdatedAt = ts

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scorecards (id, name, version, definition, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.Name, sc.Version, string(def), ts.Format(time.RFC3339), ts.Format(time.RFC3339),
	)
	if isUniqueViolation(err) {
		return eris.Wrapf(ErrConflict, "scorecard %s already exists", sc.ID)
	}
	if err != nil {
		return eris.Wrap(err, "create scorecard")
	}
	return nil
}

func scanScorecard(row interface{ Scan(...any) error }) (*models.Scorecard, error) {
	sc := &models.Scorecard{}
	var def, createdAt, updatedAt string
	if err := row.Scan(&sc.ID, &sc.Name, &sc.Version, &def, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(def), &sc.Groups); err != nil {
		return nil, eris.Wrapf(err, "decode scorecard %s", sc.ID)
	}
	sc.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	sc.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return sc, nil
}

func (s *SQLiteStore) GetScorecard(ctx context.Context, id string) (*models.Scorecard, error) {
	return getScorecard(ctx, s.db, id)
}

func getScorecard(ctx context.Context, q queryer, id string) (*models.Scorecard, error) {
	sc, err := scanScorecard(q.QueryRowContext(ctx,
		`SELECT id, name, version, definition, created_at, updated_at FROM scorecards WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "scorecard %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "get scorecard")
	}
	return sc, nil
}

func (s *SQLiteStore) ListScorecards(ctx context.Context) ([]*models.Scorecard, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, version, definition, created_at, updated_at FROM scorecards ORDER BY name, version`)
	if err != nil {
		return nil, eris.Wrap(err, "list scorecards")
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Scorecard
	for rows.Next() {
		sc, err := scanScorecard(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan scorecard")
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// --- Reviews ---

// CreateReview starts a draft review with one blank item per scorecard
// question, in hierarchy order.
func (s *SQLiteStore) CreateReview(ctx context.Context, req *models.NewReviewRequest) (*models.Review, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	sc, err := getScorecard(ctx, tx, req.ScorecardID)
	if err != nil {
		return nil, err
	}

	id := newULID()
	ts := now()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO reviews (id, resource_id, phase_id, submission_id, scorecard_id, committed, final_score, initial_score, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, 0, ?, ?)`,
		id, req.ResourceID, req.PhaseID, req.SubmissionID, sc.ID, ts, ts,
	)
	if err != nil {
		return nil, eris.Wrap(err, "create review")
	}

	for i, q := range sc.Questions() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO review_items (id, review_id, scorecard_question_id, position) VALUES (?, ?, ?, ?)`,
			newULID(), id, q.ID, i,
		); err != nil {
			return nil, eris.Wrapf(err, "create review item for %s", q.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "commit review")
	}
	return s.GetReview(ctx, id)
}

// GetReview loads a review with its items, comments, appeals and responses.
func (s *SQLiteStore) GetReview(ctx context.Context, id string) (*models.Review, error) {
	return loadReview(ctx, s.db, id)
}

const reviewColumns = `id, resource_id, phase_id, submission_id, scorecard_id, committed, final_score, initial_score, created_at, updated_at`

func scanReview(row interface{ Scan(...any) error }) (*models.Review, error) {
	r := &models.Review{}
	err := row.Scan(&r.ID, &r.ResourceID, &r.PhaseID, &r.SubmissionID, &r.ScorecardID,
		&r.Committed, &r.FinalScore, &r.InitialScore, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func loadReview(ctx context.Context, q queryer, id string) (*models.Review, error) {
	r, err := scanReview(q.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "review %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "get review")
	}

	items, err := loadItems(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if err := loadComments(ctx, q, id, items); err != nil {
		return nil, err
	}
	r.ReviewItems = items
	return r, nil
}

func loadItems(ctx context.Context, q queryer, reviewID string) ([]*models.ReviewItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, scorecard_question_id, initial_answer, final_answer, manager_comment
		FROM review_items WHERE review_id = ? ORDER BY position, id`, reviewID)
	if err != nil {
		return nil, eris.Wrap(err, "list review items")
	}
	defer func() { _ = rows.Close() }()

	items := []*models.ReviewItem{}
	for rows.Next() {
		it := &models.ReviewItem{ReviewItemComments: []*models.ReviewItemComment{}}
		var final, manager sql.NullString
		if err := rows.Scan(&it.ID, &it.ScorecardQuestionID, &it.InitialAnswer, &final, &manager); err != nil {
			return nil, eris.Wrap(err, "scan review item")
		}
		it.FinalAnswer = stringPtr(final)
		it.ManagerComment = stringPtr(manager)
		items = append(items, it)
	}
	return items, rows.Err()
}

func loadComments(ctx context.Context, q queryer, reviewID string, items []*models.ReviewItem) error {
	byID := make(map[string]*models.ReviewItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	rows, err := q.QueryContext(ctx,
		`SELECT c.id, c.review_item_id, c.content, c.type, c.sort_order,
			a.id, a.content, r.id, r.content, r.success
		FROM review_item_comments c
		JOIN review_items i ON i.id = c.review_item_id
		LEFT JOIN appeals a ON a.review_item_comment_id = c.id
		LEFT JOIN appeal_responses r ON r.appeal_id = a.id
		WHERE i.review_id = ?
		ORDER BY c.sort_order, c.id`, reviewID)
	if err != nil {
		return eris.Wrap(err, "list comments")
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		c := &models.ReviewItemComment{}
		var itemID, typ string
		var appealID, appealContent, respID, respContent sql.NullString
		var success sql.NullBool
		if err := rows.Scan(&c.ID, &itemID, &c.Content, &typ, &c.SortOrder,
			&appealID, &appealContent, &respID, &respContent, &success); err != nil {
			return eris.Wrap(err, "scan comment")
		}
		c.Type = models.CommentType(typ)
		if appealID.Valid {
			c.Appeal = &models.AppealInfo{
				ID:                  appealID.String,
				ReviewItemCommentID: c.ID,
				Content:             appealContent.String,
			}
			if respID.Valid {
				c.Appeal.AppealResponse = &models.AppealResponse{
					ID:       respID.String,
					AppealID: appealID.String,
					Content:  respContent.String,
					Success:  success.Bool,
				}
			}
		}
		if it, ok := byID[itemID]; ok {
			it.ReviewItemComments = append(it.ReviewItemComments, c)
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) ListReviews(ctx context.Context, filter ReviewListFilter) ([]*models.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews`
	var conditions []string
	var args []any

	if filter.ScorecardID != "" {
		conditions = append(conditions, "scorecard_id = ?")
		args = append(args, filter.ScorecardID)
	}
	if filter.SubmissionID != "" {
		conditions = append(conditions, "submission_id = ?")
		args = append(args, filter.SubmissionID)
	}
	if filter.ResourceID != "" {
		conditions = append(conditions, "resource_id = ?")
		args = append(args, filter.ResourceID)
	}
	if filter.Committed != nil {
		conditions = append(conditions, "committed = ?")
		args = append(args, boolToInt(*filter.Committed))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "list reviews")
	}
	defer func() { _ = rows.Close() }()

	var reviews []*models.Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan review")
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

// PatchReview applies a partial review update in one transaction and
// returns the stored review. Items are matched by scorecard question id.
// When an item carries a comment list, stored comments are matched to it
// by sortOrder so that matched comments keep their id and appeal;
// unmatched stored comments are removed.
func (s *SQLiteStore) PatchReview(ctx context.Context, id string, patch *models.ReviewPatch) (*models.Review, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var committed any
	if patch.Committed != nil {
		committed = boolToInt(*patch.Committed)
	}
	var finalScore, initialScore any
	if patch.FinalScore != nil {
		finalScore = *patch.FinalScore
	}
	if patch.InitialScore != nil {
		initialScore = *patch.InitialScore
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE reviews SET
			committed = COALESCE(?, committed),
			final_score = COALESCE(?, final_score),
			initial_score = COALESCE(?, initial_score),
			updated_at = ?
		WHERE id = ?`,
		committed, finalScore, initialScore, now(), id,
	)
	if err != nil {
		return nil, eris.Wrap(err, "update review")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, eris.Wrapf(ErrNotFound, "review %s", id)
	}

	for i := range patch.ReviewItems {
		if err := patchItem(ctx, tx, id, &patch.ReviewItems[i]); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "commit review")
	}
	return s.GetReview(ctx, id)
}

func patchItem(ctx context.Context, tx *sql.Tx, reviewID string, ip *models.ReviewItemPatch) error {
	var itemID string
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM review_items WHERE review_id = ? AND scorecard_question_id = ?`,
		reviewID, ip.ScorecardQuestionID,
	).Scan(&itemID)
	switch {
	case err == sql.ErrNoRows:
		itemID = newULID()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO review_items (id, review_id, scorecard_question_id, position)
			VALUES (?, ?, ?, (SELECT COUNT(*) FROM review_items WHERE review_id = ?))`,
			itemID, reviewID, ip.ScorecardQuestionID, reviewID,
		); err != nil {
			return eris.Wrapf(err, "create review item for %s", ip.ScorecardQuestionID)
		}
	case err != nil:
		return eris.Wrap(err, "find review item")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE review_items SET
			initial_answer = ?,
			final_answer = COALESCE(?, final_answer),
			manager_comment = COALESCE(?, manager_comment)
		WHERE id = ?`,
		ip.InitialAnswer, nullString(ip.FinalAnswer), nullString(ip.ManagerComment), itemID,
	); err != nil {
		return eris.Wrapf(err, "update review item %s", itemID)
	}

	if ip.ReviewItemComments == nil {
		return nil
	}
	return syncComments(ctx, tx, itemID, ip.ReviewItemComments)
}

func syncComments(ctx context.Context, tx *sql.Tx, itemID string, patches []models.ReviewCommentPatch) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, sort_order FROM review_item_comments WHERE review_item_id = ? ORDER BY sort_order, id`, itemID)
	if err != nil {
		return eris.Wrap(err, "list item comments")
	}
	existing := make(map[int][]string)
	var all []string
	for rows.Next() {
		var cid string
		var order int
		if err := rows.Scan(&cid, &order); err != nil {
			_ = rows.Close()
			return eris.Wrap(err, "scan item comment")
		}
		existing[order] = append(existing[order], cid)
		all = append(all, cid)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "list item comments")
	}

	kept := make(map[string]bool, len(patches))
	for _, cp := range patches {
		typ := cp.Type
		if typ == "" {
			typ = models.CommentTypeComment
		}
		if ids := existing[cp.SortOrder]; len(ids) > 0 {
			cid := ids[0]
			existing[cp.SortOrder] = ids[1:]
			kept[cid] = true
			if _, err := tx.ExecContext(ctx,
				`UPDATE review_item_comments SET content = ?, type = ? WHERE id = ?`,
				cp.Content, string(typ), cid,
			); err != nil {
				return eris.Wrapf(err, "update comment %s", cid)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO review_item_comments (id, review_item_id, content, type, sort_order) VALUES (?, ?, ?, ?, ?)`,
			newULID(), itemID, cp.Content, string(typ), cp.SortOrder,
		); err != nil {
			return eris.Wrap(err, "create comment")
		}
	}

	for _, cid := range all {
		if kept[cid] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM review_item_comments WHERE id = ?`, cid); err != nil {
			return eris.Wrapf(err, "delete comment %s", cid)
		}
	}
	return nil
}

// --- Appeals ---

// CreateAppeal raises an appeal on a comment. A comment holds at most one
// appeal; a second attempt returns ErrConflict.
func (s *SQLiteStore) CreateAppeal(ctx context.Context, req *models.AppealRequest) (*models.AppealInfo, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM review_item_comments WHERE id = ?`, req.ReviewItemCommentID,
	).Scan(&exists); err != nil {
		return nil, eris.Wrap(err, "find comment")
	}
	if exists == 0 {
		return nil, eris.Wrapf(ErrNotFound, "comment %s", req.ReviewItemCommentID)
	}

	a := &models.AppealInfo{
		ID:                  newULID(),
		ReviewItemCommentID: req.ReviewItemCommentID,
		Content:             req.Content,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO appeals (id, review_item_comment_id, content, created_at) VALUES (?, ?, ?, ?)`,
		a.ID, a.ReviewItemCommentID, a.Content, now(),
	)
	if isUniqueViolation(err) {
		return nil, eris.Wrapf(ErrConflict, "comment %s already has an appeal", req.ReviewItemCommentID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "create appeal")
	}
	return a, nil
}

// DeleteAppeal removes an appeal and, by cascade, its response.
func (s *SQLiteStore) DeleteAppeal(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM appeals WHERE id = ?`, id)
	if err != nil {
		return eris.Wrap(err, "delete appeal")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrNotFound, "appeal %s", id)
	}
	return nil
}

// CreateAppealResponse records the response to an appeal. Responding again
// replaces the earlier response and keeps its id.
func (s *SQLiteStore) CreateAppealResponse(ctx context.Context, req *models.AppealResponseRequest) (*models.AppealResponse, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM appeals WHERE id = ?`, req.AppealID,
	).Scan(&exists); err != nil {
		return nil, eris.Wrap(err, "find appeal")
	}
	if exists == 0 {
		return nil, eris.Wrapf(ErrNotFound, "appeal %s", req.AppealID)
	}

	ts := now()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO appeal_responses (id, appeal_id, content, success, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(appeal_id) DO UPDATE SET
			content = excluded.content,
			success = excluded.success,
			updated_at = excluded.updated_at`,
		newULID(), req.AppealID, req.Content, boolToInt(req.Success), ts, ts,
	); err != nil {
		return nil, eris.Wrap(err, "create appeal response")
	}

	resp := &models.AppealResponse{}
	if err := s.db.QueryRowContext(ctx,
		`SELECT id, appeal_id, content, success FROM appeal_responses WHERE appeal_id = ?`, req.AppealID,
	).Scan(&resp.ID, &resp.AppealID, &resp.Content, &resp.Success); err != nil {
		return nil, eris.Wrap(err, "get appeal response")
	}
	return resp, nil
}
