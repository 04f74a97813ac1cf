package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joescharf/scorecard/internal/models"
	"github.com/joescharf/scorecard/internal/scoring"
	"github.com/joescharf/scorecard/internal/store"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

var errBadRequest = eris.New("bad request")

// Server provides the REST API handlers.
type Server struct {
	store store.Store
	log   *zap.Logger
}

// NewServer creates a new API server. A nil logger disables logging.
func NewServer(s store.Store, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{store: s, log: log}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/scorecards", s.listScorecards)
	mux.HandleFunc("POST /api/v1/scorecard", s.createScorecard)
	mux.HandleFunc("GET /api/v1/scorecard/{id}", s.getScorecard)

	mux.HandleFunc("GET /api/v1/reviews", s.listReviews)
	mux.HandleFunc("POST /api/v1/review", s.createReview)
	mux.HandleFunc("GET /api/v1/review/{id}", s.getReview)
	mux.HandleFunc("PATCH /api/v1/review/{id}", s.patchReview)
	mux.HandleFunc("GET /api/v1/review/{id}/score", s.scoreReview)

	mux.HandleFunc("POST /api/v1/appeal", s.createAppeal)
	mux.HandleFunc("DELETE /api/v1/appeal/{id}", s.deleteAppeal)
	mux.HandleFunc("POST /api/v1/appealResponse", s.createAppealResponse)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the error envelope, logging server-side failures.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return eris.Wrapf(errBadRequest, "invalid request body: %v", err)
	}
	return nil
}

// --- Scorecards ---

func (s *Server) listScorecards(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListScorecards(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Scorecard{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getScorecard(w http.ResponseWriter, r *http.Request) {
	sc, err := s.store.GetScorecard(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) createScorecard(w http.ResponseWriter, r *http.Request) {
	var sc models.Scorecard
	if err := decode(w, r, &sc); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := sc.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.CreateScorecard(r.Context(), &sc); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, &sc)
}

// --- Reviews ---

func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ReviewListFilter{
		ScorecardID:  q.Get("scorecardId"),
		SubmissionID: q.Get("submissionId"),
		ResourceID:   q.Get("resourceId"),
	}
	if v := q.Get("committed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "committed must be true or false")
			return
		}
		filter.Committed = &b
	}
	list, err := s.store.ListReviews(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Review{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createReview(w http.ResponseWriter, r *http.Request) {
	var req models.NewReviewRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.ScorecardID == "" {
		writeError(w, http.StatusBadRequest, "scorecardId is required")
		return
	}
	review, err := s.store.CreateReview(r.Context(), &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, review)
}

func (s *Server) getReview(w http.ResponseWriter, r *http.Request) {
	review, err := s.store.GetReview(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

// patchReview stores the caller's scores as sent. Items must reference
// questions of the review's scorecard.
func (s *Server) patchReview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var patch models.ReviewPatch
	if err := decode(w, r, &patch); err != nil {
		s.fail(w, r, err)
		return
	}

	if len(patch.ReviewItems) > 0 {
		review, err := s.store.GetReview(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		sc, err := s.store.GetScorecard(r.Context(), review.ScorecardID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		for _, it := range patch.ReviewItems {
			if _, ok := sc.Question(it.ScorecardQuestionID); !ok {
				writeError(w, http.StatusBadRequest, "unknown scorecard question: "+it.ScorecardQuestionID)
				return
			}
		}
	}

	saved, err := s.store.PatchReview(r.Context(), id, &patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// ScoreResponse is the body of GET review/{id}/score.
type ScoreResponse struct {
	ReviewID     string                `json:"reviewId"`
	Committed    bool                  `json:"committed"`
	FinalScore   float64               `json:"finalScore"`
	InitialScore float64               `json:"initialScore"`
	Computed     float64               `json:"computedScore"`
	Progress     int                   `json:"progress"`
	Groups       []scoring.GroupResult `json:"groups"`
}

func (s *Server) scoreReview(w http.ResponseWriter, r *http.Request) {
	review, err := s.store.GetReview(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sc, err := s.store.GetScorecard(r.Context(), review.ScorecardID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res := scoring.Compute(sc, scoring.EffectiveAnswers(review.ReviewItems))
	writeJSON(w, http.StatusOK, ScoreResponse{
		ReviewID:     review.ID,
		Committed:    review.Committed,
		FinalScore:   review.FinalScore,
		InitialScore: review.InitialScore,
		Computed:     res.Total,
		Progress:     res.Progress,
		Groups:       res.Groups,
	})
}

// --- Appeals ---

func (s *Server) createAppeal(w http.ResponseWriter, r *http.Request) {
	var req models.AppealRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.ReviewItemCommentID == "" {
		writeError(w, http.StatusBadRequest, "reviewItemCommentId is required")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	a, err := s.store.CreateAppeal(r.Context(), &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) deleteAppeal(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAppeal(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createAppealResponse(w http.ResponseWriter, r *http.Request) {
	var req models.AppealResponseRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.AppealID == "" {
		writeError(w, http.StatusBadRequest, "appealId is required")
		return
	}
	resp, err := s.store.CreateAppealResponse(r.Context(), &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}
