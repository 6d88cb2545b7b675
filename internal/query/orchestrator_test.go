package query

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/testutil"
	"github.com/starford/ansuz/internal/transport"
)

type fakeRetriever struct {
	retrieveReqs []transport.QueryRequest
	generateReqs []transport.GenerateRequest

	insights    []models.RetrievedInsight
	retrieveErr error

	questions   []models.ComparisonQuestion
	usage       models.TokenUsage
	generateErr error
}

func (f *fakeRetriever) Retrieve(_ context.Context, req transport.QueryRequest) (*transport.QueryResponse, error) {
	f.retrieveReqs = append(f.retrieveReqs, req)
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	return &transport.QueryResponse{Insights: f.insights}, nil
}

func (f *fakeRetriever) Generate(_ context.Context, req transport.GenerateRequest) (*transport.GenerateResponse, error) {
	f.generateReqs = append(f.generateReqs, req)
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	return &transport.GenerateResponse{Questions: f.questions, TokenUsage: f.usage}, nil
}

type recordingPresenter struct {
	completed []*Result
	failed    []string
}

func (p *recordingPresenter) QueryCompleted(res *Result) { p.completed = append(p.completed, res) }
func (p *recordingPresenter) QueryFailed(path string, _ error) { p.failed = append(p.failed, path) }

func newOrchestrator(t *testing.T, fake *fakeRetriever, pres Presenter) (*Orchestrator, string) {
	t.Helper()
	vaultDir, store := testutil.TestVault(t)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	params := func() Params { return Params{TopK: 5, MinSimilarity: 0.7} }
	return New(store, fake, params, logger, pres), vaultDir
}

func TestRun_RejectsNonQuestionPath(t *testing.T) {
	fake := &fakeRetriever{}
	o, _ := newOrchestrator(t, fake, nil)

	for _, path := range []string{"Understandings/u.md", "Claims/c.md", "Questions/notes.txt", "random.md"} {
		if _, err := o.Run(context.Background(), path); !errors.Is(err, apperr.ErrNotQuestion) {
			t.Errorf("Run(%q) err = %v, want ErrNotQuestion", path, err)
		}
	}
	if len(fake.retrieveReqs) != 0 {
		t.Errorf("no remote call expected, got %d", len(fake.retrieveReqs))
	}
}

func TestRun_MissingNoteFails(t *testing.T) {
	fake := &fakeRetriever{}
	pres := &recordingPresenter{}
	o, _ := newOrchestrator(t, fake, pres)

	if _, err := o.Run(context.Background(), "Questions/ghost.md"); err == nil {
		t.Fatal("expected an error for a missing note")
	}
	if len(pres.failed) != 1 {
		t.Errorf("failed notifications = %d, want 1", len(pres.failed))
	}
}

func TestRun_EmptyRetrievalProducesFallback(t *testing.T) {
	fake := &fakeRetriever{}
	pres := &recordingPresenter{}
	o, vaultDir := newOrchestrator(t, fake, pres)
	testutil.WriteNote(t, vaultDir, "Questions/lonely.md", "---\ntype: question\n---\nWho am I?\n")

	res, err := o.Run(context.Background(), "Questions/lonely.md")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Questions) != 1 {
		t.Fatalf("questions = %d, want exactly one fallback", len(res.Questions))
	}
	q := res.Questions[0]
	if q.Type != models.QuestionAmplify {
		t.Errorf("type = %q, want amplify", q.Type)
	}
	if q.Question != fallbackPrompt {
		t.Errorf("question = %q", q.Question)
	}
	if len(fake.generateReqs) != 0 {
		t.Errorf("generate must not be called on empty retrieval, got %d calls", len(fake.generateReqs))
	}
	if len(res.Insights) != 0 {
		t.Errorf("insights = %v, want empty", res.Insights)
	}
	if len(pres.completed) != 1 {
		t.Errorf("completed notifications = %d, want 1", len(pres.completed))
	}
}

func TestRun_GeneratesWithAllInsights(t *testing.T) {
	insights := []models.RetrievedInsight{
		{Path: "Understandings/a.md", Content: "A", Similarity: 0.9},
		{Path: "Understandings/b.md", Content: "B", Similarity: 0.4},
	}
	fake := &fakeRetriever{
		insights: insights,
		questions: []models.ComparisonQuestion{
			{Type: models.QuestionMemoryInvoke, Question: "Remember this?", InsightReference: "Understandings/a.md"},
			{Type: models.QuestionConflictDetect, Question: "Does this clash?", InsightReference: "Understandings/b.md"},
		},
		usage: models.TokenUsage{Prompt: 120, Completion: 80},
	}
	o, vaultDir := newOrchestrator(t, fake, nil)
	testutil.WriteNote(t, vaultDir, "Questions/deep.md", "---\ntype: question\n---\nWhat matters?\n")

	res, err := o.Run(context.Background(), "Questions/deep.md")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(fake.retrieveReqs) != 1 {
		t.Fatalf("retrieve calls = %d, want 1", len(fake.retrieveReqs))
	}
	rq := fake.retrieveReqs[0]
	if rq.QuestionContent != "What matters?\n" {
		t.Errorf("question content = %q, header must be stripped", rq.QuestionContent)
	}
	if rq.TopK != 5 || rq.MinSimilarity != 0.7 {
		t.Errorf("params not passed through: %+v", rq)
	}

	if len(fake.generateReqs) != 1 {
		t.Fatalf("generate calls = %d, want 1", len(fake.generateReqs))
	}
	gq := fake.generateReqs[0]
	if len(gq.RetrievedInsights) != 2 {
		t.Errorf("generate got %d insights, want all 2", len(gq.RetrievedInsights))
	}
	// Similarity scores travel unmodified.
	if gq.RetrievedInsights[0].Similarity != 0.9 || gq.RetrievedInsights[1].Similarity != 0.4 {
		t.Errorf("similarities altered: %+v", gq.RetrievedInsights)
	}

	if len(res.Questions) != 2 {
		t.Errorf("questions = %d, want 2", len(res.Questions))
	}
	if res.TokenUsage.Prompt != 120 || res.TokenUsage.Completion != 80 {
		t.Errorf("token usage = %+v", res.TokenUsage)
	}
	if got := o.Current(); got != res {
		t.Error("Current should hold the completed result")
	}
}

func TestRun_RetrieveFailureClearsResult(t *testing.T) {
	fake := &fakeRetriever{insights: []models.RetrievedInsight{{Path: "Understandings/a.md"}}}
	pres := &recordingPresenter{}
	o, vaultDir := newOrchestrator(t, fake, pres)
	testutil.WriteNote(t, vaultDir, "Questions/q.md", "Q?\n")

	// Populate a result first.
	if _, err := o.Run(context.Background(), "Questions/q.md"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if o.Current() == nil {
		t.Fatal("expected a current result before the failure")
	}

	fake.retrieveErr = errors.New("connection refused")
	if _, err := o.Run(context.Background(), "Questions/q.md"); err == nil {
		t.Fatal("expected retrieve failure to surface")
	}
	if o.Current() != nil {
		t.Error("failed run must clear the current result")
	}
	if len(pres.failed) != 1 {
		t.Errorf("failed notifications = %d, want 1", len(pres.failed))
	}
}

func TestRun_GenerateFailureClearsResult(t *testing.T) {
	fake := &fakeRetriever{
		insights:    []models.RetrievedInsight{{Path: "Understandings/a.md", Content: "A"}},
		generateErr: errors.New("model overloaded"),
	}
	o, vaultDir := newOrchestrator(t, fake, nil)
	testutil.WriteNote(t, vaultDir, "Questions/q.md", "Q?\n")

	_, err := o.Run(context.Background(), "Questions/q.md")
	if err == nil {
		t.Fatal("expected generate failure to surface")
	}
	if o.Current() != nil {
		t.Error("failed run must clear the current result")
	}
}

func TestRun_ParamsReadPerRun(t *testing.T) {
	fake := &fakeRetriever{}
	vaultDir, store := testutil.TestVault(t)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	p := Params{TopK: 3, MinSimilarity: 0.5}
	o := New(store, fake, func() Params { return p }, logger, nil)
	testutil.WriteNote(t, vaultDir, "Questions/q.md", "Q?\n")

	if _, err := o.Run(context.Background(), "Questions/q.md"); err != nil {
		t.Fatal(err)
	}
	p = Params{TopK: 9, MinSimilarity: 0.2}
	if _, err := o.Run(context.Background(), "Questions/q.md"); err != nil {
		t.Fatal(err)
	}

	if fake.retrieveReqs[0].TopK != 3 || fake.retrieveReqs[1].TopK != 9 {
		t.Errorf("params not re-read per run: %+v", fake.retrieveReqs)
	}
}
