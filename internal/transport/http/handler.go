package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"certquiz-service/internal/app"
	"certquiz-service/internal/domain"
)

// Handler exposes the session lifecycle over REST.
type Handler struct {
	service *app.SessionService
}

func NewHandler(service *app.SessionService) *Handler {
	return &Handler{service: service}
}

// Register wires the routes into the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /quiz/start", h.startSession)
	mux.HandleFunc("POST /quiz/{id}/answer", h.submitAnswer)
	mux.HandleFunc("POST /quiz/{id}/complete", h.completeSession)
	mux.HandleFunc("GET /quiz/{id}", h.getSession)
	mux.HandleFunc("GET /stats", h.stats)
}

type startRequest struct {
	UserID           string `json:"userId"`
	ExamType         string `json:"examType"`
	QuestionCount    int    `json:"questionCount"`
	TimeLimitSeconds int    `json:"timeLimitSeconds"`
	Difficulty       string `json:"difficulty"`
}

type answerRequest struct {
	UserID            string   `json:"userId"`
	QuestionIndex     int      `json:"questionIndex"`
	SelectedOptionIDs []string `json:"selectedOptionIds"`
}

type completeRequest struct {
	UserID string `json:"userId"`
}

// sessionResponse is the client view of a session. Correct option sets stay
// server-side; clients only see progress and, once completed, the score.
type sessionResponse struct {
	ID               string        `json:"id"`
	UserID           string        `json:"userId"`
	ExamType         string        `json:"examType"`
	QuestionCount    int           `json:"questionCount"`
	TimeLimitSeconds int           `json:"timeLimitSeconds,omitempty"`
	Difficulty       string        `json:"difficulty"`
	State            string        `json:"state"`
	AnsweredCount    int           `json:"answeredCount"`
	QuestionIDs      []string      `json:"questionIds"`
	StartedAt        time.Time     `json:"startedAt"`
	Deadline         *time.Time    `json:"deadline,omitempty"`
	CompletedAt      *time.Time    `json:"completedAt,omitempty"`
	Version          int64         `json:"version"`
	Score            *domain.Score `json:"score,omitempty"`
}

func sessionView(session domain.QuizSession) sessionResponse {
	resp := sessionResponse{
		ID:               session.ID,
		UserID:           session.UserID,
		ExamType:         string(session.Config.ExamType),
		QuestionCount:    session.Config.QuestionCount,
		TimeLimitSeconds: session.Config.TimeLimitSeconds,
		Difficulty:       string(session.Config.Difficulty),
		State:            session.State.String(),
		AnsweredCount:    session.AnsweredCount(),
		StartedAt:        session.StartedAt,
		CompletedAt:      session.CompletedAt,
		Version:          session.Version,
	}
	for _, q := range session.Questions {
		resp.QuestionIDs = append(resp.QuestionIDs, q.QuestionID)
	}
	if deadline, ok := session.Deadline(); ok {
		resp.Deadline = &deadline
	}
	if session.State == domain.StateCompleted {
		score := session.Score()
		resp.Score = &score
	}
	return resp
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	config, err := domain.NewQuizConfig(domain.ExamType(req.ExamType), req.QuestionCount, req.TimeLimitSeconds, domain.Difficulty(req.Difficulty))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	session, err := h.service.StartSession(r.Context(), req.UserID, config)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionView(session))
}

func (h *Handler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	session, err := h.service.SubmitAnswer(r.Context(), r.PathValue("id"), req.UserID, req.QuestionIndex, req.SelectedOptionIDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(session))
}

func (h *Handler) completeSession(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	session, _, err := h.service.Complete(r.Context(), r.PathValue("id"), req.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(session))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.GetSession(r.Context(), r.PathValue("id"), r.URL.Query().Get("userId"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(session))
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	total, active, err := h.service.Stats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"totalSessions": total, "activeSessions": active})
}

// writeDomainError maps domain failures onto status codes: validation is 400,
// unknown sessions 404, state/version conflicts 409, and expiry 410 so
// clients can show the specific time-limit message.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrQuestionBankEmpty):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrSessionNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrDuplicateAnswer),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrActiveSessionExists),
		errors.Is(err, domain.ErrConcurrentModification):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrSessionExpired):
		writeError(w, err.Error(), http.StatusGone)
	default:
		log.Printf("internal error: %v", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write response: %v", err)
	}
}
