package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"exam-service/internal/adaptive"
	"exam-service/internal/apierr"
	"exam-service/internal/config"
	"exam-service/internal/event"
	"exam-service/internal/models"
	"exam-service/internal/selection"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Finish reasons accepted from clients. Each maps to a terminal status
// plus a completion reason on the stored attempt.
const (
	FinishReasonManual  = "manual"
	FinishReasonTimeout = "timeout"
	FinishReasonAbort   = "abort"
)

// Submission outcomes returned to the handler layer.
const (
	SubmitStatusSuccess  = "success"
	SubmitStatusComplete = "complete"
	SubmitStatusExpired  = "expired"
)

// AttemptService drives the attempt lifecycle: pool resolution, adaptive
// question selection, answer recording, scoring and finalization.
type AttemptService struct {
	attempts  AttemptStore
	answers   AnswerStore
	questions QuestionStore
	templates TemplateStore
	pools     PoolStore
	publisher event.Publisher

	selector *adaptive.Selector
	engine   config.EngineConfig
	weights  models.DifficultyWeights

	locks sync.Map // attempt id -> *sync.Mutex
	now   func() time.Time
}

func NewAttemptService(
	attempts AttemptStore,
	answers AnswerStore,
	questions QuestionStore,
	templates TemplateStore,
	pools PoolStore,
	publisher event.Publisher,
	engine config.EngineConfig,
) *AttemptService {
	weights := models.DifficultyWeights{
		Easy:   engine.WeightEasy,
		Medium: engine.WeightMedium,
		Hard:   engine.WeightHard,
	}
	if weights == (models.DifficultyWeights{}) {
		weights = models.DefaultDifficultyWeights()
	}

	return &AttemptService{
		attempts:  attempts,
		answers:   answers,
		questions: questions,
		templates: templates,
		pools:     pools,
		publisher: publisher,
		selector: adaptive.NewSelector(&adaptive.Config{
			Window:         engine.ProgressiveWindow,
			UpperThreshold: engine.ProgressiveUpper,
			LowerThreshold: engine.ProgressiveLower,
		}),
		engine:  engine,
		weights: weights,
		now:     time.Now,
	}
}

type StartAttemptRequest struct {
	TemplateID      string
	UserID          string
	DurationMinutes int
	Adaptive        *bool
	Strategy        string
	MaxQuestions    *int
}

type StartAttemptResult struct {
	Attempt       *models.TestAttempt
	FirstQuestion *models.Question
}

type SubmitAnswerRequest struct {
	AttemptID        string
	UserID           string
	QuestionID       string
	SelectedOption   *int
	TimeTakenSeconds int
}

type SubmitAnswerResult struct {
	Status             string
	NextQuestion       *models.Question
	QuestionsAnswered  int
	MaxQuestions       *int
	ProgressPercentage float64
	Attempt            *models.TestAttempt
}

// SectionPoolInfo reports eligible question counts for one template section.
type SectionPoolInfo struct {
	PaperID      string `json:"paperId"`
	SectionID    string `json:"sectionId,omitempty"`
	SubsectionID string `json:"subsectionId,omitempty"`
	Required     int    `json:"required"`
	Available    int64  `json:"available"`
	Satisfied    bool   `json:"satisfied"`
}

type TemplatePoolInfo struct {
	TemplateID    string            `json:"templateId"`
	Sections      []SectionPoolInfo `json:"sections"`
	TotalRequired int               `json:"totalRequired"`
	Eligible      bool              `json:"eligible"`
}

// StartAttempt resolves the template's question pool, snapshots it on a new
// in_progress attempt and hands back the first question to serve.
func (s *AttemptService) StartAttempt(ctx context.Context, req StartAttemptRequest) (*StartAttemptResult, error) {
	template, err := s.templates.FindByID(ctx, req.TemplateID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apierr.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to load template %s: %w", req.TemplateID, err)
	}

	adaptiveFlag := template.Adaptive
	if req.Adaptive != nil {
		adaptiveFlag = *req.Adaptive
	}

	strategy := ""
	if adaptiveFlag {
		strategy = req.Strategy
		if strategy == "" {
			strategy = template.Strategy
		}
		if strategy == "" {
			strategy = models.StrategyProgressive
		}
		if !models.ValidStrategy(strategy) {
			return nil, apierr.ErrInvalidStrategy
		}
	}

	duration := req.DurationMinutes
	if duration <= 0 {
		duration = template.DurationMinutes
	}
	if duration <= 0 {
		duration = s.engine.DefaultDurationMinutes
	}

	now := s.now()

	// Pre-flight: every section must have enough eligible questions before
	// anything is written, so a failed start leaves no partial attempt.
	for _, section := range template.Sections {
		available, err := s.questions.CountEligible(ctx, section, now)
		if err != nil {
			return nil, fmt.Errorf("failed to count eligible questions for %s: %w", sectionLabel(section), err)
		}
		if available < int64(section.QuestionCount) {
			return nil, apierr.InsufficientQuestions(sectionLabel(section), int64(section.QuestionCount), available)
		}
	}

	pool, err := s.questions.ResolvePool(ctx, template.Sections, now)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve question pool: %w", err)
	}
	if len(pool) == 0 {
		return nil, apierr.InsufficientQuestions(req.TemplateID, 1, 0)
	}

	buckets := selection.Normalize(pool, s.engine.MinBucketSize)

	var maxQuestions *int
	if req.MaxQuestions != nil && *req.MaxQuestions > 0 {
		v := *req.MaxQuestions
		maxQuestions = &v
	} else if adaptiveFlag {
		if total := template.TotalQuestionCount(); total > 0 {
			maxQuestions = &total
		}
	}

	attempt := &models.TestAttempt{
		UserID:          req.UserID,
		TemplateID:      template.ID,
		Adaptive:        adaptiveFlag,
		Strategy:        strategy,
		StartTime:       now,
		DurationMinutes: duration,
		ExpiresAt:       now.Add(time.Duration(duration) * time.Minute),
		MaxQuestions:    maxQuestions,
		Status:          models.AttemptStatusInProgress,
		Pool:            buckets.Entries(),
	}

	if err := s.attempts.Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}
	attemptID := attempt.ID.Hex()

	ttl := time.Duration(duration)*time.Minute + s.engine.PoolCacheSlack
	if err := s.pools.SavePool(ctx, attemptID, pool, ttl); err != nil {
		log.Printf("Warning: failed to cache pool for attempt %s: %v", attemptID, err)
	}

	state := adaptive.NewSelectionState(buckets, adaptiveFlag, strategy, s.engine.ProgressiveWindow)
	first := s.selector.Next(state)
	if first == nil {
		// cannot happen with a non-empty pool, but never hand out a started
		// attempt without a question to answer
		return nil, fmt.Errorf("no first question selectable for attempt %s", attemptID)
	}

	s.publishStarted(attempt)

	return &StartAttemptResult{Attempt: attempt, FirstQuestion: first}, nil
}

// SubmitAnswer records one answer and advances the attempt. Expiry is
// checked before anything is written: a submission that arrives after the
// deadline expires the attempt and the answer is discarded.
func (s *AttemptService) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitAnswerResult, error) {
	unlock := s.lockAttempt(req.AttemptID)
	defer unlock()

	attempt, err := s.loadOwnedAttempt(ctx, req.AttemptID, req.UserID)
	if err != nil {
		return nil, err
	}
	if attempt.IsTerminal() {
		return nil, apierr.ErrAttemptAlreadyTerminal
	}
	attemptID := attempt.ID.Hex()

	now := s.now()
	if attempt.TimeExpired(now) {
		attempt, err = s.finalize(ctx, attempt, models.AttemptStatusExpired, models.CompletionTimeout)
		if err != nil {
			return nil, err
		}
		return s.terminalResult(SubmitStatusExpired, attempt), nil
	}

	difficulty, inPool := attempt.PoolDifficulty(req.QuestionID)
	if !inPool {
		return nil, apierr.ErrQuestionNotInPool
	}

	answers, err := s.answers.FindByAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to load answers for attempt %s: %w", attemptID, err)
	}
	for _, a := range answers {
		if a.QuestionID == req.QuestionID {
			return nil, apierr.ErrDuplicateAnswer
		}
	}

	questionsByID, err := s.loadPool(ctx, attempt)
	if err != nil {
		return nil, err
	}
	question, found := questionsByID[req.QuestionID]
	if !found {
		return nil, fmt.Errorf("question %s from attempt %s pool missing in question bank", req.QuestionID, attemptID)
	}

	answer := buildAnswer(attempt.ID, &question, difficulty, req, len(answers)+1, now)
	if err := s.answers.Create(ctx, answer); err != nil {
		// the unique index is the backstop for concurrent duplicates
		return nil, err
	}

	attempt, err = s.attempts.IncrementAnswered(ctx, attemptID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apierr.ErrAttemptAlreadyTerminal
		}
		return nil, fmt.Errorf("failed to advance attempt %s: %w", req.AttemptID, err)
	}
	answers = append(answers, *answer)

	// Termination precedence: question budget first, then the clock, then
	// pool exhaustion.
	if attempt.ReachedMaxQuestions() {
		attempt, err = s.finalize(ctx, attempt, models.AttemptStatusComplete, models.CompletionMaxQuestions)
		if err != nil {
			return nil, err
		}
		return s.terminalResult(SubmitStatusComplete, attempt), nil
	}
	if attempt.TimeExpired(s.now()) {
		attempt, err = s.finalize(ctx, attempt, models.AttemptStatusExpired, models.CompletionTimeout)
		if err != nil {
			return nil, err
		}
		return s.terminalResult(SubmitStatusExpired, attempt), nil
	}

	buckets := selection.FromEntries(attempt.Pool, questionsByID)
	state := adaptive.StateFromHistory(buckets, attempt.Adaptive, attempt.Strategy, answers, s.engine.ProgressiveWindow)
	next := s.selector.Next(state)
	if next == nil {
		attempt, err = s.finalize(ctx, attempt, models.AttemptStatusComplete, models.CompletionPoolExhausted)
		if err != nil {
			return nil, err
		}
		return s.terminalResult(SubmitStatusComplete, attempt), nil
	}

	return &SubmitAnswerResult{
		Status:             SubmitStatusSuccess,
		NextQuestion:       next,
		QuestionsAnswered:  attempt.QuestionsAnswered,
		MaxQuestions:       attempt.MaxQuestions,
		ProgressPercentage: s.progress(attempt, s.now()),
		Attempt:            attempt,
	}, nil
}

// FinishAttempt closes an attempt on behalf of the user (or the sweeper,
// which passes an empty userID to skip the ownership check). Finishing an
// already terminal attempt returns the stored outcome without re-scoring
// and without emitting another event.
func (s *AttemptService) FinishAttempt(ctx context.Context, attemptID, userID, reason string) (*models.TestAttempt, error) {
	unlock := s.lockAttempt(attemptID)
	defer unlock()

	attempt, err := s.loadOwnedAttempt(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if attempt.IsTerminal() {
		return attempt, nil
	}

	status := models.AttemptStatusComplete
	completion := models.CompletionManual
	switch reason {
	case "", FinishReasonManual:
	case FinishReasonTimeout:
		status = models.AttemptStatusExpired
		completion = models.CompletionTimeout
	case FinishReasonAbort:
		status = models.AttemptStatusAborted
		completion = models.CompletionAbort
	default:
		return nil, apierr.New(http.StatusBadRequest, "INVALID_FINISH_REASON", fmt.Errorf("unknown finish reason %q", reason))
	}

	return s.finalize(ctx, attempt, status, completion)
}

// GetAttempt returns an attempt owned by userID together with its live
// progress percentage.
func (s *AttemptService) GetAttempt(ctx context.Context, attemptID, userID string) (*models.TestAttempt, float64, error) {
	attempt, err := s.loadOwnedAttempt(ctx, attemptID, userID)
	if err != nil {
		return nil, 0, err
	}
	return attempt, s.progress(attempt, s.now()), nil
}

// ListAnswers returns the recorded answers of an attempt in submission order.
func (s *AttemptService) ListAnswers(ctx context.Context, attemptID, userID string) ([]models.TestAnswer, error) {
	if _, err := s.loadOwnedAttempt(ctx, attemptID, userID); err != nil {
		return nil, err
	}
	answers, err := s.answers.FindByAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to load answers for attempt %s: %w", attemptID, err)
	}
	return answers, nil
}

// ListAttempts returns the most recent attempts of a user.
func (s *AttemptService) ListAttempts(ctx context.Context, userID string, limit int64) ([]models.TestAttempt, error) {
	attempts, err := s.attempts.FindByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts for user %s: %w", userID, err)
	}
	return attempts, nil
}

// PoolInfo reports, per template section, how many eligible questions the
// bank currently holds versus how many the template requires.
func (s *AttemptService) PoolInfo(ctx context.Context, templateID string) (*TemplatePoolInfo, error) {
	template, err := s.templates.FindByID(ctx, templateID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apierr.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to load template %s: %w", templateID, err)
	}

	now := s.now()
	info := &TemplatePoolInfo{
		TemplateID: template.ID,
		Sections:   make([]SectionPoolInfo, 0, len(template.Sections)),
		Eligible:   true,
	}
	for _, section := range template.Sections {
		available, err := s.questions.CountEligible(ctx, section, now)
		if err != nil {
			return nil, fmt.Errorf("failed to count eligible questions for %s: %w", sectionLabel(section), err)
		}
		satisfied := available >= int64(section.QuestionCount)
		if !satisfied {
			info.Eligible = false
		}
		info.Sections = append(info.Sections, SectionPoolInfo{
			PaperID:      section.PaperID,
			SectionID:    section.SectionID,
			SubsectionID: section.SubsectionID,
			Required:     section.QuestionCount,
			Available:    available,
			Satisfied:    satisfied,
		})
		info.TotalRequired += section.QuestionCount
	}
	return info, nil
}

// SweepExpired finalizes in_progress attempts whose deadline has passed.
// Returns how many attempts were expired.
func (s *AttemptService) SweepExpired(ctx context.Context, limit int64) (int, error) {
	expired, err := s.attempts.FindExpired(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to query expired attempts: %w", err)
	}

	swept := 0
	for _, attempt := range expired {
		id := attempt.ID.Hex()
		if _, err := s.FinishAttempt(ctx, id, "", FinishReasonTimeout); err != nil {
			log.Printf("Warning: failed to expire attempt %s: %v", id, err)
			continue
		}
		swept++
	}
	return swept, nil
}

// finalize computes scores over the recorded answers and promotes the
// attempt to a terminal status. The status write is a compare-and-set on
// status=in_progress: exactly one caller wins and emits the finalization
// event, every other concurrent finalizer observes the stored outcome.
func (s *AttemptService) finalize(ctx context.Context, attempt *models.TestAttempt, status, reason string) (*models.TestAttempt, error) {
	attemptID := attempt.ID.Hex()

	answers, err := s.answers.FindByAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to load answers for scoring attempt %s: %w", attemptID, err)
	}
	scores := models.ComputeScores(answers, s.weights)
	endTime := s.now()

	won, err := s.attempts.Finalize(ctx, attemptID, status, reason, endTime, scores)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize attempt %s: %w", attemptID, err)
	}
	if !won {
		current, err := s.attempts.FindByID(ctx, attemptID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload finalized attempt %s: %w", attemptID, err)
		}
		return current, nil
	}

	attempt.Status = status
	attempt.CompletionReason = reason
	attempt.EndTime = &endTime
	attempt.QuestionsAnswered = scores.Answered
	attempt.RawScore = &scores.Raw
	attempt.WeightedScore = &scores.Weighted

	if err := s.pools.DeletePool(ctx, attemptID); err != nil {
		log.Printf("Warning: failed to drop cached pool for attempt %s: %v", attemptID, err)
	}

	s.publishFinalized(attempt, scores, answers)
	return attempt, nil
}

func (s *AttemptService) publishStarted(attempt *models.TestAttempt) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishAttemptStarted(event.CreateAttemptStartedEvent(attempt)); err != nil {
		log.Printf("Warning: failed to publish attempt started event: %v", err)
	}
}

func (s *AttemptService) publishFinalized(attempt *models.TestAttempt, scores models.ScoreSummary, answers []models.TestAnswer) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishAttemptFinalized(event.CreateAttemptFinalizedEvent(attempt, scores, answers)); err != nil {
		log.Printf("Warning: failed to publish attempt finalized event: %v", err)
	}
}

// loadOwnedAttempt loads an attempt and enforces ownership. A mismatched
// owner gets the same not-found error as a missing attempt so the endpoint
// does not leak which attempt ids exist.
func (s *AttemptService) loadOwnedAttempt(ctx context.Context, attemptID, userID string) (*models.TestAttempt, error) {
	attempt, err := s.attempts.FindByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apierr.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to load attempt %s: %w", attemptID, err)
	}
	if userID != "" && attempt.UserID != userID {
		return nil, apierr.ErrAttemptNotFound
	}
	return attempt, nil
}

// loadPool returns the attempt's pool questions keyed by id, trying the
// cache first and falling back to the question bank.
func (s *AttemptService) loadPool(ctx context.Context, attempt *models.TestAttempt) (map[string]models.Question, error) {
	attemptID := attempt.ID.Hex()

	questions, cached, err := s.pools.GetPool(ctx, attemptID)
	if err != nil {
		log.Printf("Warning: pool cache read failed for attempt %s: %v", attemptID, err)
		cached = false
	}
	if !cached {
		ids := make([]string, len(attempt.Pool))
		for i, entry := range attempt.Pool {
			ids[i] = entry.QuestionID
		}
		questions, err = s.questions.FindByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to hydrate pool for attempt %s: %w", attemptID, err)
		}
		if ttl := time.Until(attempt.ExpiresAt) + s.engine.PoolCacheSlack; ttl > 0 {
			if err := s.pools.SavePool(ctx, attemptID, questions, ttl); err != nil {
				log.Printf("Warning: failed to re-cache pool for attempt %s: %v", attemptID, err)
			}
		}
	}

	byID := make(map[string]models.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	return byID, nil
}

// lockAttempt serializes request handling per attempt within this process.
// The compare-and-set in the repository remains the cross-process backstop.
func (s *AttemptService) lockAttempt(id string) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *AttemptService) terminalResult(status string, attempt *models.TestAttempt) *SubmitAnswerResult {
	return &SubmitAnswerResult{
		Status:             status,
		QuestionsAnswered:  attempt.QuestionsAnswered,
		MaxQuestions:       attempt.MaxQuestions,
		ProgressPercentage: s.progress(attempt, s.now()),
		Attempt:            attempt,
	}
}

// progress reports completion as answered/max when a question budget is
// set, otherwise as elapsed/duration. Capped at 100.
func (s *AttemptService) progress(attempt *models.TestAttempt, now time.Time) float64 {
	var p float64
	if attempt.MaxQuestions != nil && *attempt.MaxQuestions > 0 {
		p = float64(attempt.QuestionsAnswered) / float64(*attempt.MaxQuestions) * 100
	} else {
		total := attempt.ExpiresAt.Sub(attempt.StartTime)
		if total <= 0 {
			return 100
		}
		reference := now
		if attempt.EndTime != nil {
			reference = *attempt.EndTime
		}
		p = reference.Sub(attempt.StartTime).Seconds() / total.Seconds() * 100
	}
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return p
}

// buildAnswer grades the submission against the question's correct option.
// A nil selection is an explicit skip, an out-of-range ordinal is recorded
// as incorrect rather than rejected.
func buildAnswer(attemptID bson.ObjectID, question *models.Question, difficulty string, req SubmitAnswerRequest, sequence int, now time.Time) *models.TestAnswer {
	correct := false
	if req.SelectedOption != nil {
		if !question.ValidOption(*req.SelectedOption) {
			log.Printf("Attempt %s: selected option %d out of range for question %s, recording as incorrect",
				attemptID.Hex(), *req.SelectedOption, question.ID)
		} else {
			correct = *req.SelectedOption == question.CorrectOption
		}
	}

	return &models.TestAnswer{
		AttemptID:        attemptID,
		QuestionID:       question.ID,
		SelectedOption:   req.SelectedOption,
		IsCorrect:        correct,
		Difficulty:       difficulty,
		Sequence:         sequence,
		TimeTakenSeconds: req.TimeTakenSeconds,
		AnsweredAt:       now,
	}
}

func sectionLabel(section models.TemplateSection) string {
	label := section.PaperID
	if section.SectionID != "" {
		label += "/" + section.SectionID
	}
	if section.SubsectionID != "" {
		label += "/" + section.SubsectionID
	}
	return label
}
