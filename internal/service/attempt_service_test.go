package service

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"exam-service/internal/apierr"
	"exam-service/internal/config"
	"exam-service/internal/event"
	"exam-service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

var testStart = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

const scoreEpsilon = 0.01

// ---- in-memory stores ----

type fakeClock struct {
	current time.Time
}

func (c *fakeClock) Now() time.Time          { return c.current }
func (c *fakeClock) Advance(d time.Duration) { c.current = c.current.Add(d) }

type fakeTemplateStore struct {
	templates map[string]models.TestTemplate
}

func (f *fakeTemplateStore) FindByID(ctx context.Context, id string) (*models.TestTemplate, error) {
	tpl, ok := f.templates[id]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	copied := tpl
	return &copied, nil
}

type fakeQuestionStore struct {
	bank []models.Question
}

func (f *fakeQuestionStore) eligible(section models.TemplateSection, now time.Time) []models.Question {
	var out []models.Question
	for _, q := range f.bank {
		if q.PaperID != section.PaperID {
			continue
		}
		if section.SectionID != "" && q.SectionID != section.SectionID {
			continue
		}
		if section.SubsectionID != "" && q.SubsectionID != section.SubsectionID {
			continue
		}
		if !q.EligibleOn(now) {
			continue
		}
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeQuestionStore) CountEligible(ctx context.Context, section models.TemplateSection, now time.Time) (int64, error) {
	return int64(len(f.eligible(section, now))), nil
}

func (f *fakeQuestionStore) ResolvePool(ctx context.Context, sections []models.TemplateSection, now time.Time) ([]models.Question, error) {
	seen := make(map[string]bool)
	var pool []models.Question
	for _, section := range sections {
		candidates := f.eligible(section, now)
		if len(candidates) > section.QuestionCount {
			candidates = candidates[:section.QuestionCount]
		}
		for _, q := range candidates {
			if seen[q.ID] {
				continue
			}
			seen[q.ID] = true
			pool = append(pool, q)
		}
	}
	return pool, nil
}

func (f *fakeQuestionStore) FindByIDs(ctx context.Context, ids []string) ([]models.Question, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []models.Question
	for _, q := range f.bank {
		if want[q.ID] {
			out = append(out, q)
		}
	}
	return out, nil
}

type fakeAttemptStore struct {
	attempts map[string]models.TestAttempt // keyed by hex id
}

func (f *fakeAttemptStore) Create(ctx context.Context, attempt *models.TestAttempt) error {
	if attempt.ID.IsZero() {
		attempt.ID = bson.NewObjectID()
	}
	attempt.CreatedAt = attempt.StartTime
	attempt.UpdatedAt = attempt.StartTime
	f.attempts[attempt.ID.Hex()] = *attempt
	return nil
}

func (f *fakeAttemptStore) FindByID(ctx context.Context, id string) (*models.TestAttempt, error) {
	attempt, ok := f.attempts[id]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	copied := attempt
	return &copied, nil
}

func (f *fakeAttemptStore) IncrementAnswered(ctx context.Context, id string) (*models.TestAttempt, error) {
	attempt, ok := f.attempts[id]
	if !ok || attempt.Status != models.AttemptStatusInProgress {
		return nil, mongo.ErrNoDocuments
	}
	attempt.QuestionsAnswered++
	f.attempts[id] = attempt
	copied := attempt
	return &copied, nil
}

func (f *fakeAttemptStore) Finalize(ctx context.Context, id, status, reason string, endTime time.Time, scores models.ScoreSummary) (bool, error) {
	attempt, ok := f.attempts[id]
	if !ok || attempt.Status != models.AttemptStatusInProgress {
		return false, nil
	}
	et := endTime
	raw, weighted := scores.Raw, scores.Weighted
	attempt.Status = status
	attempt.CompletionReason = reason
	attempt.EndTime = &et
	attempt.RawScore = &raw
	attempt.WeightedScore = &weighted
	attempt.QuestionsAnswered = scores.Answered
	attempt.UpdatedAt = endTime
	f.attempts[id] = attempt
	return true, nil
}

func (f *fakeAttemptStore) FindExpired(ctx context.Context, now time.Time, limit int64) ([]models.TestAttempt, error) {
	var out []models.TestAttempt
	for _, attempt := range f.attempts {
		if attempt.Status == models.AttemptStatusInProgress && attempt.ExpiresAt.Before(now) {
			out = append(out, attempt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeAttemptStore) FindByUser(ctx context.Context, userID string, limit int64) ([]models.TestAttempt, error) {
	var out []models.TestAttempt
	for _, attempt := range f.attempts {
		if attempt.UserID == userID {
			out = append(out, attempt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeAnswerStore struct {
	answers []models.TestAnswer
}

func (f *fakeAnswerStore) Create(ctx context.Context, answer *models.TestAnswer) error {
	for _, a := range f.answers {
		if a.AttemptID == answer.AttemptID && a.QuestionID == answer.QuestionID {
			return apierr.ErrDuplicateAnswer
		}
	}
	if answer.ID.IsZero() {
		answer.ID = bson.NewObjectID()
	}
	f.answers = append(f.answers, *answer)
	return nil
}

func (f *fakeAnswerStore) FindByAttempt(ctx context.Context, attemptID string) ([]models.TestAnswer, error) {
	var out []models.TestAnswer
	for _, a := range f.answers {
		if a.AttemptID.Hex() == attemptID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (f *fakeAnswerStore) countFor(attemptID string) int {
	n := 0
	for _, a := range f.answers {
		if a.AttemptID.Hex() == attemptID {
			n++
		}
	}
	return n
}

type fakePoolStore struct {
	pools   map[string][]models.Question
	saves   int
	deletes int
}

func (f *fakePoolStore) SavePool(ctx context.Context, attemptID string, questions []models.Question, ttl time.Duration) error {
	f.pools[attemptID] = questions
	f.saves++
	return nil
}

func (f *fakePoolStore) GetPool(ctx context.Context, attemptID string) ([]models.Question, bool, error) {
	questions, ok := f.pools[attemptID]
	return questions, ok, nil
}

func (f *fakePoolStore) DeletePool(ctx context.Context, attemptID string) error {
	delete(f.pools, attemptID)
	f.deletes++
	return nil
}

type fakePublisher struct {
	started   []event.AttemptStartedEvent
	finalized []event.AttemptFinalizedEvent
}

func (f *fakePublisher) PublishAttemptStarted(evt *event.AttemptStartedEvent) error {
	f.started = append(f.started, *evt)
	return nil
}

func (f *fakePublisher) PublishAttemptFinalized(evt *event.AttemptFinalizedEvent) error {
	f.finalized = append(f.finalized, *evt)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

// ---- fixture ----

type fixture struct {
	svc       *AttemptService
	attempts  *fakeAttemptStore
	answers   *fakeAnswerStore
	questions *fakeQuestionStore
	templates *fakeTemplateStore
	pools     *fakePoolStore
	publisher *fakePublisher
	clock     *fakeClock
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		MinBucketSize:          1,
		ProgressiveWindow:      3,
		ProgressiveUpper:       0.70,
		ProgressiveLower:       0.40,
		WeightEasy:             1.0,
		WeightMedium:           1.5,
		WeightHard:             2.0,
		DefaultDurationMinutes: 30,
		SweepInterval:          time.Second,
		PoolCacheSlack:         time.Minute,
	}
}

func newFixture(bank []models.Question, templates ...models.TestTemplate) *fixture {
	f := &fixture{
		attempts:  &fakeAttemptStore{attempts: make(map[string]models.TestAttempt)},
		answers:   &fakeAnswerStore{},
		questions: &fakeQuestionStore{bank: bank},
		templates: &fakeTemplateStore{templates: make(map[string]models.TestTemplate)},
		pools:     &fakePoolStore{pools: make(map[string][]models.Question)},
		publisher: &fakePublisher{},
		clock:     &fakeClock{current: testStart},
	}
	for _, tpl := range templates {
		f.templates.templates[tpl.ID] = tpl
	}
	f.svc = NewAttemptService(f.attempts, f.answers, f.questions, f.templates, f.pools, f.publisher, testEngineConfig())
	f.svc.now = f.clock.Now
	return f
}

func bankQuestion(id, difficulty string) models.Question {
	return models.Question{
		ID:      id,
		Content: "question " + id,
		Type:    models.QuestionTypeSingleChoice,
		Options: []models.Option{
			{Text: "A", OptionOrder: 0},
			{Text: "B", OptionOrder: 1},
			{Text: "C", OptionOrder: 2},
			{Text: "D", OptionOrder: 3},
		},
		CorrectOption: 1,
		Difficulty:    difficulty,
		PaperID:       "math",
		Status:        models.QuestionStatusActive,
	}
}

func mathBank() []models.Question {
	return []models.Question{
		bankQuestion("q-e1", "easy"),
		bankQuestion("q-e2", "easy"),
		bankQuestion("q-m1", "medium"),
		bankQuestion("q-m2", "medium"),
		bankQuestion("q-h1", "hard"),
		bankQuestion("q-h2", "hard"),
	}
}

func mathTemplate() models.TestTemplate {
	return models.TestTemplate{
		ID:              "tpl-math",
		Name:            "Math mock exam",
		DurationMinutes: 30,
		Adaptive:        true,
		Strategy:        models.StrategyProgressive,
		Sections:        []models.TemplateSection{{PaperID: "math", QuestionCount: 6}},
	}
}

func sequentialTemplate() models.TestTemplate {
	return models.TestTemplate{
		ID:              "tpl-seq",
		Name:            "Math paper walk",
		DurationMinutes: 30,
		Adaptive:        false,
		Sections:        []models.TemplateSection{{PaperID: "math", QuestionCount: 3}},
	}
}

func (f *fixture) start(t *testing.T, req StartAttemptRequest) *StartAttemptResult {
	t.Helper()
	res, err := f.svc.StartAttempt(context.Background(), req)
	if err != nil {
		t.Fatalf("StartAttempt failed: %v", err)
	}
	return res
}

func (f *fixture) submit(t *testing.T, attemptID, userID, questionID string, selected *int) *SubmitAnswerResult {
	t.Helper()
	res, err := f.svc.SubmitAnswer(context.Background(), SubmitAnswerRequest{
		AttemptID:        attemptID,
		UserID:           userID,
		QuestionID:       questionID,
		SelectedOption:   selected,
		TimeTakenSeconds: 5,
	})
	if err != nil {
		t.Fatalf("SubmitAnswer(%s) failed: %v", questionID, err)
	}
	return res
}

func (f *fixture) stored(t *testing.T, attemptID string) models.TestAttempt {
	t.Helper()
	attempt, ok := f.attempts.attempts[attemptID]
	if !ok {
		t.Fatalf("attempt %s not stored", attemptID)
	}
	return attempt
}

func intPtr(v int) *int { return &v }

// ---- StartAttempt ----

func TestStartAttempt_ResolvesPoolAndFirstQuestion(t *testing.T) {
	f := newFixture(mathBank(), mathTemplate())

	res := f.start(t, StartAttemptRequest{TemplateID: "tpl-math", UserID: "user-1"})

	attempt := res.Attempt
	if attempt.Status != models.AttemptStatusInProgress {
		t.Errorf("expected status in_progress, got %s", attempt.Status)
	}
	if attempt.Strategy != models.StrategyProgressive {
		t.Errorf("expected progressive strategy, got %q", attempt.Strategy)
	}
	if len(attempt.Pool) != 6 {
		t.Fatalf("expected pool of 6, got %d", len(attempt.Pool))
	}
	for i := 1; i < len(attempt.Pool); i++ {
		if attempt.Pool[i-1].QuestionID >= attempt.Pool[i].QuestionID {
			t.Errorf("pool snapshot not sorted by question id: %s before %s",
				attempt.Pool[i-1].QuestionID, attempt.Pool[i].QuestionID)
		}
	}
	if attempt.MaxQuestions == nil || *attempt.MaxQuestions != 6 {
		t.Errorf("expected max questions 6 from template sections, got %v", attempt.MaxQuestions)
	}
	wantExpiry := testStart.Add(30 * time.Minute)
	if !attempt.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expected expiry %v, got %v", wantExpiry, attempt.ExpiresAt)
	}

	if res.FirstQuestion == nil {
		t.Fatal("expected a first question")
	}
	if res.FirstQuestion.Difficulty != models.DifficultyEasy {
		t.Errorf("progressive attempt should open with an easy question, got %s", res.FirstQuestion.Difficulty)
	}

	if f.pools.saves != 1 {
		t.Errorf("expected pool cached once, got %d saves", f.pools.saves)
	}
	if len(f.publisher.started) != 1 {
		t.Fatalf("expected one started event, got %d", len(f.publisher.started))
	}
	if f.publisher.started[0].PoolSize != 6 {
		t.Errorf("started event pool size = %d, want 6", f.publisher.started[0].PoolSize)
	}
}

func TestStartAttempt_TemplateNotFound(t *testing.T) {
	f := newFixture(mathBank())

	_, err := f.svc.StartAttempt(context.Background(), StartAttemptRequest{TemplateID: "missing", UserID: "user-1"})
	if !errors.Is(err, apierr.ErrTemplateNotFound) {
		t.Fatalf("expected template not found, got %v", err)
	}
}

func TestStartAttempt_InsufficientQuestionsNamesSection(t *testing.T) {
	tpl := mathTemplate()
	tpl.Sections = []models.TemplateSection{
		{PaperID: "math", QuestionCount: 2},
		{PaperID: "math", SectionID: "algebra", QuestionCount: 4},
	}
	f := newFixture(mathBank(), tpl)

	_, err := f.svc.StartAttempt(context.Background(), StartAttemptRequest{TemplateID: tpl.ID, UserID: "user-1"})
	if err == nil {
		t.Fatal("expected insufficient questions error")
	}

	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *apierr.Error, got %T", err)
	}
	if apiErr.Status != 400 {
		t.Errorf("expected status 400, got %d", apiErr.Status)
	}
	if got := apiErr.Error(); got != "section math/algebra requires 4 eligible questions, only 0 available" {
		t.Errorf("unexpected message: %q", got)
	}

	// a failed pre-flight must leave nothing behind
	if len(f.attempts.attempts) != 0 {
		t.Errorf("expected no attempt persisted, found %d", len(f.attempts.attempts))
	}
	if len(f.publisher.started) != 0 {
		t.Errorf("expected no started event, got %d", len(f.publisher.started))
	}
}

func TestStartAttempt_InvalidStrategy(t *testing.T) {
	f := newFixture(mathBank(), mathTemplate())

	_, err := f.svc.StartAttempt(context.Background(), StartAttemptRequest{
		TemplateID: "tpl-math",
		UserID:     "user-1",
		Strategy:   "hardest_first",
	})
	if !errors.Is(err, apierr.ErrInvalidStrategy) {
		t.Fatalf("expected invalid strategy error, got %v", err)
	}
}

func TestStartAttempt_RequestOverrides(t *testing.T) {
	f := newFixture(mathBank(), mathTemplate())

	nonAdaptive := false
	res := f.start(t, StartAttemptRequest{
		TemplateID:      "tpl-math",
		UserID:          "user-1",
		DurationMinutes: 10,
		Adaptive:        &nonAdaptive,
	})

	attempt := res.Attempt
	if attempt.Adaptive {
		t.Error("request should downgrade the attempt to non-adaptive")
	}
	if attempt.Strategy != "" {
		t.Errorf("non-adaptive attempt should carry no strategy, got %q", attempt.Strategy)
	}
	if attempt.MaxQuestions != nil {
		t.Errorf("non-adaptive attempt without explicit cap should have none, got %d", *attempt.MaxQuestions)
	}
	wantExpiry := testStart.Add(10 * time.Minute)
	if !attempt.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expected request duration to win: want expiry %v, got %v", wantExpiry, attempt.ExpiresAt)
	}

	// non-adaptive selection walks the pool in stable id order
	if res.FirstQuestion.ID != "q-e1" {
		t.Errorf("expected first pool question q-e1, got %s", res.FirstQuestion.ID)
	}
}

func TestStartAttempt_ExplicitMaxQuestionsWins(t *testing.T) {
	f := newFixture(mathBank(), mathTemplate())

	res := f.start(t, StartAttemptRequest{TemplateID: "tpl-math", UserID: "user-1", MaxQuestions: intPtr(2)})
	if res.Attempt.MaxQuestions == nil || *res.Attempt.MaxQuestions != 2 {
		t.Fatalf("expected explicit max questions 2, got %v", res.Attempt.MaxQuestions)
	}
}

// ---- SubmitAnswer ----

func TestSubmitAnswer_RecordsAndServesNext(t *testing.T) {
	f := newFixture(mathBank(), mathTemplate())
	res := f.start(t, StartAttemptRequest{TemplateID: "tpl-math", UserID: "user-1"})
	attemptID := res.Attempt.ID.Hex()
	first := res.FirstQuestion

	sub := f.submit(t, attemptID, "user-1", first.ID, intPtr(first.CorrectOption))

	if sub.Status != SubmitStatusSuccess {
		t.Fatalf("expected success, got %s", sub.Status)
	}
	if sub.NextQuestion == nil {
		t.Fatal("expected a next question")
	}
	if sub.NextQuestion.ID == first.ID {
		t.Error("next question must differ from the answered one")
	}
	if sub.QuestionsAnswered != 1 {
		t.Errorf("expected 1 answered, got %d", sub.QuestionsAnswered)
	}
	if want := 100.0 / 6.0; sub.ProgressPercentage < want-scoreEpsilon || sub.ProgressPercentage > want+scoreEpsilon {
		t.Errorf("expected progress %.2f, got %.2f", want, sub.ProgressPercentage)
	}

	rows, _ := f.answers.FindByAttempt(context.Background(), attemptID)
	if len(rows) != 1 {
		t.Fatalf("expected 1 answer row, got %d", len(rows))
	}
	row := rows[0]
	if !row.IsCorrect {
		t.Error("answer graded incorrect despite matching the correct option")
	}
	if row.Sequence != 1 {
		t.Errorf("expected sequence 1, got %d", row.Sequence)
	}
	wantDifficulty, _ := res.Attempt.PoolDifficulty(first.ID)
	if row.Difficulty != wantDifficulty {
		t.Errorf("answer difficulty %q does not snapshot pool difficulty %q", row.Difficulty, wantDifficulty)
	}
}

func TestSubmitAnswer_MaxQuestionsCompletesAttempt(t *testing.T) {
	f := newFixture(mathBank(), mathTemplate())
	res := f.start(t, StartAttemptRequest{TemplateID: "tpl-math", UserID: "user-1", MaxQuestions: intPtr(2)})
	attemptID := res.Attempt.ID.Hex()

	first := f.submit(t, attemptID, "user-1", res.FirstQuestion.ID, intPtr(res.FirstQuestion.CorrectOption))
	if first.Status != SubmitStatusSuccess {
		t.Fatalf("first answer should not terminate, got %s", first.Status)
	}

	second := f.submit(t, attemptID, "user-1", first.NextQuestion.ID, intPtr(0))
	if second.Status != SubmitStatusComplete {
		t.Fatalf("second answer should complete the attempt, got %s", second.Status)
	}
	if second.NextQuestion != nil {
		t.Error("completed attempt must not serve another question")
	}

	stored := f.stored(t, attemptID)
	if stored.Status != models.AttemptStatusComplete {
		t.Errorf("expected stored status complete, got %s", stored.Status)
	}
	if stored.CompletionReason != models.CompletionMaxQuestions {
		t.Errorf("expected completion reason max_questions, got %s", stored.CompletionReason)
	}
	if stored.RawScore == nil || stored.WeightedScore == nil {
		t.Fatal("expected scores on the finalized attempt")
	}
	if stored.QuestionsAnswered != f.answers.countFor(attemptID) {
		t.Errorf("questions_answered %d disagrees with %d answer rows",
			stored.QuestionsAnswered, f.answers.countFor(attemptID))
	}

	// a third submission must be rejected, not recorded
	_, err := f.svc.SubmitAnswer(context.Background(), SubmitAnswerRequest{
		AttemptID:      attemptID,
		UserID:         "user-1",
		QuestionID:     "q-h2",
		SelectedOption: intPtr(1),
	})
	if !errors.Is(err, apierr.ErrAttemptAlreadyTerminal) {
		t.Fatalf("expected attempt already terminal, got %v", err)
	}
	if f.answers.countFor(attemptID) != 2 {
		t.Errorf("rejected submission must not add rows, got %d", f.answers.countFor(attemptID))
	}
	if len(f.publisher.finalized) != 1 {
		t.Errorf("expected exactly one finalized event, got %d", len(f.publisher.finalized))
	}
}

func TestSubmitAnswer_DuplicateQuestionRejected(t *testing.T) {
	f := newFixture(mathBank(), mathTemplate())
	res := f.start(t, StartAttemptRequest{TemplateID: "tpl-math", UserID: "user-1"})
	attemptID := res.Attempt.ID.Hex()
	first := res.FirstQuestion

	f.submit(t, attemptID, "user-1", first.ID, intPtr(first.CorrectOption))

	_, err := f.svc.SubmitAnswer(context.Background(), SubmitAnswerRequest{
		AttemptID:      attemptID,
		UserID:         "user-1",
		QuestionID:     first.ID,
		SelectedOption: intPtr(2),
	})
	if !errors.Is(err, apierr.ErrDuplicateAnswer) {
		t.Fatalf("expected duplicate answer error, got %v", err)
	}
	if f.answers.countFor(attemptID) != 1 {
		t.Errorf("duplicate must not add a row, got %d", f.answers.countFor(attemptID))
	}
	if got := f.stored(t, attemptID).QuestionsAnswered; got != 1 {
		t.Errorf("duplicate must not advance the counter, got %d", got)
	}
}

func TestSubmitAnswer_OutOfRangeOptionIsIncorrect(t *testing.T) {
	f := newFixture(mathBank(), mathTemplate())
	res := f.start(t, StartAttemptRequest{TemplateID: "tpl-math", UserID: "user-1"})
	attemptID := res.Attempt.ID.Hex()

	sub := f.submit(t, attemptID, "user-1", res.FirstQuestion.ID, intPtr(99))
	if sub.Status != SubmitStatusSuccess {
		t.Fatalf("out-of-range option must be absorbed, got %s", sub.Status)
	}

	rows, _ := f.answers.FindByAttempt(context.Background(), attemptID)
	if len(rows) != 1 {
		t.Fatalf("expected 1 answer row, got %d", len(rows))
	}
	if rows[0].IsCorrect {
		t.Error("out-of-range option must be recorded as incorrect")
	}
	if rows[0].SelectedOption == nil || *rows[0].SelectedOption != 99 {
		t.Errorf("expected the raw selection 99 to be kept, got %v", rows[0].SelectedOption)
	}
}

func TestSubmitAnswer_SkipRecordsIncorrect(t *testing.T) {
	f := newFixture(mathBank(), mathTemplate())
	res := f.start(t, StartAttemptRequest{TemplateID: "tpl-math", UserID: "user-1"})

	sub := f.submit(t, res.Attempt.ID.Hex(), "user-1", res.FirstQuestion.ID, nil)
	if sub.Status != SubmitStatusSuccess {
		t.Fatalf("skip must advance the attempt, got %s", sub.Status)
	}

	rows, _ := f.answers.FindByAttempt(context.Background(), res.Attempt.ID.Hex())
	if len(rows) != 1 {
		t.Fatalf("expected 1 answer row, got %d", len(rows))
	}
	if rows[0].SelectedOption != nil {
		t.Errorf("skip must store a nil selection, got %v", *rows[0].SelectedOption)
	}
	if rows[0].IsCorrect {
		t.Error("skip must be recorded as incorrect")
	}
}

func TestSubmitAnswer_QuestionNotInPool(t *testing.T) {
	f := newFixture(mathBank(), mathTemplate())
	res := f.start(t, StartAttemptRequest{TemplateID: "tpl-math", UserID: "user-1"})

	_, err := f.svc.SubmitAnswer(context.Background(), SubmitAnswerRequest{
		AttemptID:      res.Attempt.ID.Hex(),
		UserID:         "user-1",
		QuestionID:     "q-unknown",
		SelectedOption: intPtr(0),
	})
	if !errors.Is(err, apierr.ErrQuestionNotInPool) {
		t.Fatalf("expected question not in pool, got %v", err)
	}
	if f.answers.countFor(res.Attempt.ID.Hex()) != 0 {
		t.Error("rejected question must not be recorded")
	}
}

func TestSubmitAnswer_AfterDeadlineExpiresWithoutRecording(t *testing.T) {
	f := newFixture(mathBank(), mathTemplate())
	res := f.start(t, StartAttemptRequest{TemplateID: "tpl-math", UserID: "user-1"})
	attemptID := res.Attempt.ID.Hex()

	f.clock.Advance(31 * time.Minute)

	sub := f.submit(t, attemptID, "user-1", res.FirstQuestion.ID, intPtr(res.FirstQuestion.CorrectOption))
	if sub.Status != SubmitStatusExpired {
		t.Fatalf("expected expired, got %s", sub.Status)
	}
	if f.answers.countFor(attemptID) != 0 {
		t.Error("late answer must be discarded, not recorded")
	}

	stored := f.stored(t, attemptID)
	if stored.Status != models.AttemptStatusExpired {
		t.Errorf("expected stored status expired, got %s", stored.Status)
	}
	if stored.CompletionReason != models.CompletionTimeout {
		t.Errorf("expected completion reason timeout, got %s", stored.CompletionReason)
	}
	if stored.RawScore == nil || *stored.RawScore != 0 {
		t.Errorf("expected zero raw score for an unanswered attempt, got %v", stored.RawScore)
	}
	if len(f.publisher.finalized) != 1 {
		t.Errorf("expected one finalized event, got %d", len(f.publisher.finalized))
	}
}

func TestSubmitAnswer_OwnershipHidesAttempt(t *testing.T) {
	f := newFixture(mathBank(), mathTemplate())
	res := f.start(t, StartAttemptRequest{TemplateID: "tpl-math", UserID: "user-1"})

	_, err := f.svc.SubmitAnswer(context.Background(), SubmitAnswerRequest{
		AttemptID:      res.Attempt.ID.Hex(),
		UserID:         "user-2",
		QuestionID:     res.FirstQuestion.ID,
		SelectedOption: intPtr(1),
	})
	if !errors.Is(err, apierr.ErrAttemptNotFound) {
		t.Fatalf("foreign attempt must read as not found, got %v", err)
	}
}

func TestSubmitAnswer_PoolExhaustionCompletes(t *testing.T) {
	f := newFixture(mathBank(), sequentialTemplate())
	res := f.start(t, StartAttemptRequest{TemplateID: "tpl-seq", UserID: "user-1"})
	attemptID := res.Attempt.ID.Hex()

	if len(res.Attempt.Pool) != 3 {
		t.Fatalf("expected pool of 3, got %d", len(res.Attempt.Pool))
	}

	// walk the whole pool: correct, correct, wrong
	q := res.FirstQuestion
	sub := f.submit(t, attemptID, "user-1", q.ID, intPtr(q.CorrectOption))
	sub = f.submit(t, attemptID, "user-1", sub.NextQuestion.ID, intPtr(sub.NextQuestion.CorrectOption))
	sub = f.submit(t, attemptID, "user-1", sub.NextQuestion.ID, intPtr(0))

	if sub.Status != SubmitStatusComplete {
		t.Fatalf("exhausted pool must complete the attempt, got %s", sub.Status)
	}

	stored := f.stored(t, attemptID)
	if stored.CompletionReason != models.CompletionPoolExhausted {
		t.Errorf("expected completion reason pool_exhausted, got %s", stored.CompletionReason)
	}
	// scores cover only what was answered: 2 of 3 correct
	wantRaw := 100.0 * 2 / 3
	if stored.RawScore == nil || *stored.RawScore < wantRaw-scoreEpsilon || *stored.RawScore > wantRaw+scoreEpsilon {
		t.Errorf("expected raw score %.2f, got %v", wantRaw, stored.RawScore)
	}
}

func TestSubmitAnswer_CacheMissFallsBackToBank(t *testing.T) {
	f := newFixture(mathBank(), mathTemplate())
	res := f.start(t, StartAttemptRequest{TemplateID: "tpl-math", UserID: "user-1"})
	attemptID := res.Attempt.ID.Hex()

	// simulate cache eviction mid-attempt
	delete(f.pools.pools, attemptID)

	sub := f.submit(t, attemptID, "user-1", res.FirstQuestion.ID, intPtr(res.FirstQuestion.CorrectOption))
	if sub.Status != SubmitStatusSuccess {
		t.Fatalf("expected success after cache miss, got %s", sub.Status)
	}
	if f.pools.saves != 2 {
		t.Errorf("expected the pool to be re-cached after the miss, got %d saves", f.pools.saves)
	}
}

// ---- FinishAttempt ----

func TestFinishAttempt_ManualIsIdempotent(t *testing.T) {
	f := newFixture(mathBank(), mathTemplate())
	res := f.start(t, StartAttemptRequest{TemplateID: "tpl-math", UserID: "user-1"})
	attemptID := res.Attempt.ID.Hex()

	f.submit(t, attemptID, "user-1", res.FirstQuestion.ID, intPtr(res.FirstQuestion.CorrectOption))

	finished, err := f.svc.FinishAttempt(context.Background(), attemptID, "user-1", FinishReasonManual)
	if err != nil {
		t.Fatalf("FinishAttempt failed: %v", err)
	}
	if finished.Status != models.AttemptStatusComplete {
		t.Errorf("expected complete, got %s", finished.Status)
	}
	if finished.CompletionReason != models.CompletionManual {
		t.Errorf("expected completion reason manual, got %s", finished.CompletionReason)
	}
	if finished.RawScore == nil || *finished.RawScore != 100 {
		t.Errorf("expected raw score 100 for the single correct answer, got %v", finished.RawScore)
	}
	firstEnd := *finished.EndTime

	// finishing again later must return the stored outcome untouched
	f.clock.Advance(5 * time.Minute)
	again, err := f.svc.FinishAttempt(context.Background(), attemptID, "user-1", FinishReasonManual)
	if err != nil {
		t.Fatalf("second FinishAttempt failed: %v", err)
	}
	if *again.RawScore != *finished.RawScore || *again.WeightedScore != *finished.WeightedScore {
		t.Error("second finish must not re-score the attempt")
	}
	if !again.EndTime.Equal(firstEnd) {
		t.Errorf("second finish must keep end time %v, got %v", firstEnd, *again.EndTime)
	}
	if len(f.publisher.finalized) != 1 {
		t.Errorf("expected exactly one finalized event, got %d", len(f.publisher.finalized))
	}
}

func TestFinishAttempt_AbortKeepsScores(t *testing.T) {
	f := newFixture(mathBank(), mathTemplate())
	res := f.start(t, StartAttemptRequest{TemplateID: "tpl-math", UserID: "user-1"})

	f.submit(t, res.Attempt.ID.Hex(), "user-1", res.FirstQuestion.ID, intPtr(0))

	finished, err := f.svc.FinishAttempt(context.Background(), res.Attempt.ID.Hex(), "user-1", FinishReasonAbort)
	if err != nil {
		t.Fatalf("FinishAttempt failed: %v", err)
	}
	if finished.Status != models.AttemptStatusAborted {
		t.Errorf("expected aborted, got %s", finished.Status)
	}
	if finished.CompletionReason != models.CompletionAbort {
		t.Errorf("expected completion reason abort, got %s", finished.CompletionReason)
	}
	if finished.RawScore == nil || *finished.RawScore != 0 {
		t.Errorf("expected raw score 0 over one wrong answer, got %v", finished.RawScore)
	}
}

func TestFinishAttempt_UnknownReasonRejected(t *testing.T) {
	f := newFixture(mathBank(), mathTemplate())
	res := f.start(t, StartAttemptRequest{TemplateID: "tpl-math", UserID: "user-1"})

	_, err := f.svc.FinishAttempt(context.Background(), res.Attempt.ID.Hex(), "user-1", "give_up")
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *apierr.Error, got %v", err)
	}
	if apiErr.Status != 400 || apiErr.Code != "INVALID_FINISH_REASON" {
		t.Errorf("expected 400 INVALID_FINISH_REASON, got %d %s", apiErr.Status, apiErr.Code)
	}
}

func TestFinishAttempt_DropsCachedPool(t *testing.T) {
	f := newFixture(mathBank(), mathTemplate())
	res := f.start(t, StartAttemptRequest{TemplateID: "tpl-math", UserID: "user-1"})

	if _, err := f.svc.FinishAttempt(context.Background(), res.Attempt.ID.Hex(), "user-1", ""); err != nil {
		t.Fatalf("FinishAttempt failed: %v", err)
	}
	if _, ok := f.pools.pools[res.Attempt.ID.Hex()]; ok {
		t.Error("finalization must drop the cached pool")
	}
}

// ---- queries ----

func TestGetAttempt_ProgressByQuestions(t *testing.T) {
	f := newFixture(mathBank(), mathTemplate())
	res := f.start(t, StartAttemptRequest{TemplateID: "tpl-math", UserID: "user-1", MaxQuestions: intPtr(4)})

	f.submit(t, res.Attempt.ID.Hex(), "user-1", res.FirstQuestion.ID, intPtr(1))

	_, progress, err := f.svc.GetAttempt(context.Background(), res.Attempt.ID.Hex(), "user-1")
	if err != nil {
		t.Fatalf("GetAttempt failed: %v", err)
	}
	if progress != 25 {
		t.Errorf("expected 25%% after 1 of 4 questions, got %.2f", progress)
	}
}

func TestGetAttempt_ProgressByElapsedTime(t *testing.T) {
	f := newFixture(mathBank(), mathTemplate())
	nonAdaptive := false
	res := f.start(t, StartAttemptRequest{TemplateID: "tpl-math", UserID: "user-1", Adaptive: &nonAdaptive})

	f.clock.Advance(15 * time.Minute)

	_, progress, err := f.svc.GetAttempt(context.Background(), res.Attempt.ID.Hex(), "user-1")
	if err != nil {
		t.Fatalf("GetAttempt failed: %v", err)
	}
	if progress != 50 {
		t.Errorf("expected 50%% at half the duration, got %.2f", progress)
	}
}

func TestListAnswers_SubmissionOrder(t *testing.T) {
	f := newFixture(mathBank(), mathTemplate())
	res := f.start(t, StartAttemptRequest{TemplateID: "tpl-math", UserID: "user-1"})
	attemptID := res.Attempt.ID.Hex()

	sub := f.submit(t, attemptID, "user-1", res.FirstQuestion.ID, intPtr(1))
	f.submit(t, attemptID, "user-1", sub.NextQuestion.ID, intPtr(1))

	answers, err := f.svc.ListAnswers(context.Background(), attemptID, "user-1")
	if err != nil {
		t.Fatalf("ListAnswers failed: %v", err)
	}
	if len(answers) != 2 {
		t.Fatalf("expected 2 answers, got %d", len(answers))
	}
	if answers[0].Sequence != 1 || answers[1].Sequence != 2 {
		t.Errorf("answers out of submission order: %d, %d", answers[0].Sequence, answers[1].Sequence)
	}

	if _, err := f.svc.ListAnswers(context.Background(), attemptID, "user-2"); !errors.Is(err, apierr.ErrAttemptNotFound) {
		t.Errorf("foreign attempt answers must read as not found, got %v", err)
	}
}

func TestPoolInfo_ReportsPerSection(t *testing.T) {
	tpl := mathTemplate()
	tpl.Sections = []models.TemplateSection{
		{PaperID: "math", QuestionCount: 4},
		{PaperID: "physics", QuestionCount: 2},
	}
	f := newFixture(mathBank(), tpl)

	info, err := f.svc.PoolInfo(context.Background(), tpl.ID)
	if err != nil {
		t.Fatalf("PoolInfo failed: %v", err)
	}
	if info.Eligible {
		t.Error("template with an unsatisfiable section must not be eligible")
	}
	if len(info.Sections) != 2 {
		t.Fatalf("expected 2 section reports, got %d", len(info.Sections))
	}
	if !info.Sections[0].Satisfied || info.Sections[0].Available != 6 {
		t.Errorf("math section should be satisfied with 6 available, got %+v", info.Sections[0])
	}
	if info.Sections[1].Satisfied || info.Sections[1].Available != 0 {
		t.Errorf("physics section should be unsatisfied with 0 available, got %+v", info.Sections[1])
	}
	if info.TotalRequired != 6 {
		t.Errorf("expected total required 6, got %d", info.TotalRequired)
	}
}

// ---- sweeper path ----

func TestSweepExpired_FinalizesOverdueAttempts(t *testing.T) {
	f := newFixture(mathBank(), mathTemplate())

	stale := f.start(t, StartAttemptRequest{TemplateID: "tpl-math", UserID: "user-1"})
	f.clock.Advance(31 * time.Minute)
	fresh := f.start(t, StartAttemptRequest{TemplateID: "tpl-math", UserID: "user-2"})

	swept, err := f.svc.SweepExpired(context.Background(), 100)
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 attempt swept, got %d", swept)
	}

	if got := f.stored(t, stale.Attempt.ID.Hex()); got.Status != models.AttemptStatusExpired || got.CompletionReason != models.CompletionTimeout {
		t.Errorf("stale attempt should be expired/timeout, got %s/%s", got.Status, got.CompletionReason)
	}
	if got := f.stored(t, fresh.Attempt.ID.Hex()); got.Status != models.AttemptStatusInProgress {
		t.Errorf("fresh attempt must stay in_progress, got %s", got.Status)
	}
	if len(f.publisher.finalized) != 1 {
		t.Errorf("expected one finalized event, got %d", len(f.publisher.finalized))
	}
}
