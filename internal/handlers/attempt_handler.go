package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"exam-service/internal/apierr"
	"exam-service/internal/models"
	"exam-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counter for attempt starts
	attemptStarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_attempt_starts_total",
			Help: "Total number of attempt start requests",
		},
		[]string{"status"},
	)

	// Counter for answer submissions by outcome
	answerSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_answer_submissions_total",
			Help: "Total number of answer submissions",
		},
		[]string{"status"},
	)

	// Counter for finish requests by resulting attempt status
	attemptFinishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_attempt_finishes_total",
			Help: "Total number of attempt finish requests",
		},
		[]string{"status"},
	)

	// Histogram for answer submission latency
	submitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "exam_answer_submit_duration_seconds",
			Help:    "Time spent processing answer submissions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)
)

type AttemptHandler struct {
	Service *service.AttemptService
}

func NewAttemptHandler(s *service.AttemptService) *AttemptHandler {
	return &AttemptHandler{Service: s}
}

// questionView is the candidate-facing question payload. The correct
// option never leaves the service.
type questionView struct {
	ID         string          `json:"id"`
	Content    string          `json:"content"`
	Type       string          `json:"type"`
	Options    []models.Option `json:"options"`
	Difficulty string          `json:"difficulty"`
}

func newQuestionView(q *models.Question) *questionView {
	if q == nil {
		return nil
	}
	return &questionView{
		ID:         q.ID,
		Content:    q.Content,
		Type:       q.Type,
		Options:    q.Options,
		Difficulty: models.NormalizeDifficulty(q.Difficulty),
	}
}

// respondError maps taxonomy errors onto their HTTP status; anything else
// is a 500.
func respondError(c *gin.Context, err error) {
	status := apierr.StatusFor(err)
	if status == http.StatusInternalServerError {
		c.JSON(status, gin.H{
			"error":   "Internal server error",
			"details": err.Error(),
		})
		return
	}
	c.JSON(status, gin.H{
		"error": err.Error(),
		"code":  apierr.CodeFor(err),
	})
}

// StartAttempt creates an attempt from a template and returns the first question
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	var req struct {
		TemplateID      string `json:"template_id" binding:"required"`
		DurationMinutes int    `json:"duration_minutes" binding:"omitempty,min=1"`
		Adaptive        *bool  `json:"adaptive"`
		Strategy        string `json:"strategy"`
		MaxQuestions    *int   `json:"max_questions" binding:"omitempty,min=1"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		attemptStarts.WithLabelValues("failure").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request format",
			"details": err.Error(),
		})
		return
	}

	// Get user ID from header (set by auth middleware)
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		attemptStarts.WithLabelValues("failure").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "User ID is required",
		})
		return
	}

	result, err := h.Service.StartAttempt(context.Background(), service.StartAttemptRequest{
		TemplateID:      req.TemplateID,
		UserID:          userID,
		DurationMinutes: req.DurationMinutes,
		Adaptive:        req.Adaptive,
		Strategy:        req.Strategy,
		MaxQuestions:    req.MaxQuestions,
	})
	if err != nil {
		attemptStarts.WithLabelValues("failure").Inc()
		respondError(c, err)
		return
	}

	attemptStarts.WithLabelValues("success").Inc()
	c.JSON(http.StatusCreated, gin.H{
		"attempt":       result.Attempt,
		"next_question": newQuestionView(result.FirstQuestion),
		"message":       "Attempt started successfully",
	})
}

// SubmitAnswer records an answer and returns the next question or the
// terminal outcome when the submission closed the attempt
func (h *AttemptHandler) SubmitAnswer(c *gin.Context) {
	start := time.Now()
	attemptID := c.Param("attemptId")

	var req struct {
		QuestionID       string `json:"question_id" binding:"required"`
		SelectedOption   *int   `json:"selected_option"`
		TimeTakenSeconds int    `json:"time_taken_seconds"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		answerSubmissions.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid answer format",
			"details": err.Error(),
		})
		return
	}

	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		answerSubmissions.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "User ID is required",
		})
		return
	}

	result, err := h.Service.SubmitAnswer(context.Background(), service.SubmitAnswerRequest{
		AttemptID:        attemptID,
		UserID:           userID,
		QuestionID:       req.QuestionID,
		SelectedOption:   req.SelectedOption,
		TimeTakenSeconds: req.TimeTakenSeconds,
	})
	if err != nil {
		answerSubmissions.WithLabelValues("rejected").Inc()
		submitDuration.WithLabelValues("rejected").Observe(time.Since(start).Seconds())
		respondError(c, err)
		return
	}

	answerSubmissions.WithLabelValues(result.Status).Inc()
	submitDuration.WithLabelValues(result.Status).Observe(time.Since(start).Seconds())

	response := gin.H{
		"status":              result.Status,
		"questions_answered":  result.QuestionsAnswered,
		"progress_percentage": result.ProgressPercentage,
	}
	if result.MaxQuestions != nil {
		response["max_questions"] = *result.MaxQuestions
	}
	if result.NextQuestion != nil {
		response["next_question"] = newQuestionView(result.NextQuestion)
	}

	switch result.Status {
	case service.SubmitStatusComplete:
		response["attempt"] = result.Attempt
		response["message"] = "Attempt complete"
	case service.SubmitStatusExpired:
		response["attempt"] = result.Attempt
		response["message"] = "Attempt time expired before the answer was recorded"
	}

	c.JSON(http.StatusOK, response)
}

// FinishAttempt closes an attempt. The body is optional; without a reason
// the finish counts as a manual submit.
func (h *AttemptHandler) FinishAttempt(c *gin.Context) {
	attemptID := c.Param("attemptId")

	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request format",
				"details": err.Error(),
			})
			return
		}
	}

	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "User ID is required",
		})
		return
	}

	attempt, err := h.Service.FinishAttempt(context.Background(), attemptID, userID, req.Reason)
	if err != nil {
		attemptFinishes.WithLabelValues("failure").Inc()
		respondError(c, err)
		return
	}

	attemptFinishes.WithLabelValues(attempt.Status).Inc()
	c.JSON(http.StatusOK, gin.H{
		"attempt": attempt,
		"message": "Attempt finished",
	})
}

// GetAttempt returns an attempt with its live progress
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	attemptID := c.Param("attemptId")

	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "User ID is required",
		})
		return
	}

	attempt, progress, err := h.Service.GetAttempt(context.Background(), attemptID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"attempt":             attempt,
		"progress_percentage": progress,
	})
}

// ListAnswers returns the recorded answers of an attempt in submission order
func (h *AttemptHandler) ListAnswers(c *gin.Context) {
	attemptID := c.Param("attemptId")

	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "User ID is required",
		})
		return
	}

	answers, err := h.Service.ListAnswers(context.Background(), attemptID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"answers": answers,
		"count":   len(answers),
	})
}

// ListAttempts returns the caller's most recent attempts
func (h *AttemptHandler) ListAttempts(c *gin.Context) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "User ID is required",
		})
		return
	}

	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)
	if err != nil || limit <= 0 {
		limit = 20
	}

	attempts, err := h.Service.ListAttempts(context.Background(), userID, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"attempts": attempts,
		"count":    len(attempts),
	})
}

// TemplatePool reports per-section eligible question counts for a template,
// so callers can check feasibility before starting an attempt
func (h *AttemptHandler) TemplatePool(c *gin.Context) {
	templateID := c.Param("templateId")

	info, err := h.Service.PoolInfo(context.Background(), templateID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, info)
}
