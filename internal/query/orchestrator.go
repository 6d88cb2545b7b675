// Package query turns an open question note into related understandings and
// generated comparison questions.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/transport"
	"github.com/starford/ansuz/internal/vault"
)

// fallbackPrompt is presented when retrieval finds nothing. A deliberate UX
// fallback, not an error.
const fallbackPrompt = "No related understandings found. What new understanding are you seeking with this question?"

// Retriever is the slice of the transport client the orchestrator depends on.
type Retriever interface {
	Retrieve(ctx context.Context, req transport.QueryRequest) (*transport.QueryResponse, error)
	Generate(ctx context.Context, req transport.GenerateRequest) (*transport.GenerateResponse, error)
}

// Params are the externally supplied retrieval tunables.
type Params struct {
	TopK          int
	MinSimilarity float64
}

// Result is one presentation-ready query outcome.
type Result struct {
	Path        string                      `json:"path"`
	Insights    []models.RetrievedInsight   `json:"insights"`
	Questions   []models.ComparisonQuestion `json:"questions"`
	TokenUsage  models.TokenUsage           `json:"token_usage"`
	CompletedAt time.Time                   `json:"completed_at"`
}

// Presenter receives query outcomes at the presentation boundary.
type Presenter interface {
	QueryCompleted(res *Result)
	QueryFailed(path string, err error)
}

// Orchestrator runs queries and owns the current displayed result. The
// result is overwritten wholesale by whichever run completes last; an
// in-flight remote call is never cancelled by a superseding run.
type Orchestrator struct {
	store     vault.Provider
	client    Retriever
	params    func() Params
	logger    *slog.Logger
	presenter Presenter

	mu      sync.Mutex
	current *Result
}

// New creates an orchestrator. params is read at each run so settings
// changes apply without restart. presenter may be nil.
func New(store vault.Provider, client Retriever, params func() Params, logger *slog.Logger, presenter Presenter) *Orchestrator {
	return &Orchestrator{
		store:     store,
		client:    client,
		params:    params,
		logger:    logger,
		presenter: presenter,
	}
}

// Current returns the most recently completed result, or nil when there is
// none (including after a failed run, which clears it).
func (o *Orchestrator) Current() *Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Run executes one query for the question note at path: read, strip the
// header, retrieve related understandings, then generate comparison
// questions. An empty retrieval produces a single amplify fallback question
// with no generation call. Any remote failure aborts the run, clears the
// current result, and is returned; nothing is retried or re-queued.
func (o *Orchestrator) Run(ctx context.Context, path string) (*Result, error) {
	if vault.RoleForPath(path) != models.RoleQuestion {
		return nil, apperr.ErrNotQuestion
	}

	note, err := vault.ReadNote(o.store, path)
	if err != nil {
		return nil, o.fail(path, err)
	}

	p := o.params()
	retrieved, err := o.client.Retrieve(ctx, transport.QueryRequest{
		QuestionContent: note.Body,
		TopK:            p.TopK,
		MinSimilarity:   p.MinSimilarity,
	})
	if err != nil {
		return nil, o.fail(path, fmt.Errorf("retrieve: %w", err))
	}

	res := &Result{
		Path:        path,
		Insights:    retrieved.Insights,
		CompletedAt: time.Now(),
	}
	if res.Insights == nil {
		res.Insights = []models.RetrievedInsight{}
	}

	if len(res.Insights) == 0 {
		res.Questions = []models.ComparisonQuestion{{
			Type:     models.QuestionAmplify,
			Question: fallbackPrompt,
		}}
		o.complete(res)
		return res, nil
	}

	generated, err := o.client.Generate(ctx, transport.GenerateRequest{
		CurrentQuestion:   note.Body,
		RetrievedInsights: res.Insights,
	})
	if err != nil {
		return nil, o.fail(path, fmt.Errorf("generate: %w", err))
	}
	res.Questions = generated.Questions
	res.TokenUsage = generated.TokenUsage
	if res.Questions == nil {
		res.Questions = []models.ComparisonQuestion{}
	}

	o.complete(res)
	return res, nil
}

func (o *Orchestrator) complete(res *Result) {
	o.mu.Lock()
	o.current = res
	o.mu.Unlock()

	o.logger.Info("query: completed",
		slog.String("path", res.Path),
		slog.Int("insights", len(res.Insights)),
		slog.Int("questions", len(res.Questions)))
	if o.presenter != nil {
		o.presenter.QueryCompleted(res)
	}
}

// fail clears the displayed result and surfaces the error.
func (o *Orchestrator) fail(path string, err error) error {
	o.mu.Lock()
	o.current = nil
	o.mu.Unlock()

	o.logger.Error("query: failed",
		slog.String("path", path),
		slog.String("error", err.Error()))
	if o.presenter != nil {
		o.presenter.QueryFailed(path, err)
	}
	return err
}
