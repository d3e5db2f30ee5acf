package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/hive-corporation/dfir-engine/internal/core/domain"
	"github.com/hive-corporation/dfir-engine/internal/core/ports"
)

// RunRequest starts a pipeline run.
type RunRequest struct {
	Input string `json:"input"`
	// Provider selects the collaborator for delegated steps. Empty falls back to
	// Config.DefaultProvider.
	Provider string `json:"provider"`
	// Steps is empty, domain.DefaultSteps or domain.OfflineSteps. Any other
	// sequence is rejected with ErrInvalidStepOrder.
	Steps []domain.Step `json:"steps,omitempty"`
}

// Config wires the orchestrator's collaborators. Only Collaborators is needed for
// delegated steps; everything else is optional.
type Config struct {
	Collaborators ports.CollaboratorRegistry
	// DefaultProvider is used for runs and refinements that name no provider.
	DefaultProvider string
	Repository      ports.RunRepository
	Notifier        ports.Notifier
	Observer        StepObserver
	// ReportFilter post-processes a parsed analysis report after static indicators
	// were merged into it.
	ReportFilter func(*domain.AnalysisSummary)
	// NewExecutor builds the step executor for a run. Defaults to NewDispatcher.
	NewExecutor func(ports.Collaborator) ports.StepExecutor
	Logger      *log.Logger
}

// Orchestrator runs the step sequence over a working artifact and owns the
// current run's state and history. Starting a run supersedes the previous one:
// results of a superseded run are never written.
type Orchestrator struct {
	collaborators   ports.CollaboratorRegistry
	defaultProvider string
	repo            ports.RunRepository
	notifier        ports.Notifier
	observer        StepObserver
	reportFilter    func(*domain.AnalysisSummary)
	newExecutor     func(ports.Collaborator) ports.StepExecutor
	logger          *log.Logger
	now             func() time.Time

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	refining   bool
	run        domain.RunRecord
}

func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		collaborators:   cfg.Collaborators,
		defaultProvider: cfg.DefaultProvider,
		repo:            cfg.Repository,
		notifier:        cfg.Notifier,
		observer:        cfg.Observer,
		reportFilter:    cfg.ReportFilter,
		newExecutor:     cfg.NewExecutor,
		logger:          cfg.Logger,
		now:             time.Now,
		run:             domain.RunRecord{State: domain.RunIdle},
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	if o.newExecutor == nil {
		o.newExecutor = func(c ports.Collaborator) ports.StepExecutor { return NewDispatcher(c) }
	}
	if o.logger == nil {
		o.logger = log.Default()
	}
	return o
}

// Run executes a full pipeline run and blocks until it completes, aborts or is
// superseded. The returned record is the run as it finished; a *StepError is
// returned alongside it when a step aborted the run.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (domain.RunRecord, error) {
	p, err := o.prepare(ctx, req)
	if err != nil {
		return domain.RunRecord{}, err
	}
	return o.execute(ctx, p)
}

// Start validates the request, starts the run in the background and returns the
// run as it was at start. done receives the run's error (nil when it completed)
// and is then closed. ctx must outlive the run; request-scoped contexts should be
// detached by the caller.
func (o *Orchestrator) Start(ctx context.Context, req RunRequest) (domain.RunRecord, <-chan error, error) {
	p, err := o.prepare(ctx, req)
	if err != nil {
		return domain.RunRecord{}, nil, err
	}

	done := make(chan error, 1)
	go func() {
		defer close(done)
		_, err := o.execute(ctx, p)
		done <- err
	}()
	return p.initial, done, nil
}

type preparedRun struct {
	runCtx   context.Context
	gen      uint64
	steps    []domain.Step
	executor ports.StepExecutor
	provider string
	initial  domain.RunRecord
}

func (o *Orchestrator) prepare(ctx context.Context, req RunRequest) (preparedRun, error) {
	if strings.TrimSpace(req.Input) == "" {
		return preparedRun{}, ErrEmptyInput
	}

	steps, err := validateSteps(req.Steps)
	if err != nil {
		return preparedRun{}, err
	}
	collaborator, provider, err := o.resolveCollaborator(req.Provider, steps)
	if err != nil {
		return preparedRun{}, err
	}

	runCtx, gen, initial, err := o.start(ctx, req.Input, provider)
	if err != nil {
		return preparedRun{}, err
	}

	return preparedRun{
		runCtx:   runCtx,
		gen:      gen,
		steps:    steps,
		executor: o.newExecutor(collaborator),
		provider: provider,
		initial:  initial,
	}, nil
}

func (o *Orchestrator) execute(ctx context.Context, p preparedRun) (domain.RunRecord, error) {
	gen, steps, executor, runCtx := p.gen, p.steps, p.executor, p.runCtx
	defer o.release(gen)

	runID := p.initial.ID
	o.logger.Info("🚀 Run started", "run", runID, "provider", p.provider, "steps", len(steps))

	var staticIOCs []domain.Indicator
	analyzed := false

	for i, step := range steps {
		artifact, err := o.enterStep(gen, i)
		if err != nil {
			return domain.RunRecord{}, err
		}

		if step == domain.StepAnalyze {
			staticIOCs = domain.ScanStaticIOCs(artifact)
		}

		started := o.now()
		outcome, execErr := executor.Execute(runCtx, step, artifact)
		elapsed := o.now().Sub(started)

		if execErr != nil {
			rec, err := o.abort(gen, step, artifact, execErr)
			if err != nil {
				return domain.RunRecord{}, err
			}
			o.observer.StepFinished(step, domain.StatusError, elapsed)
			o.logger.Error("❌ Step failed, run aborted", "run", rec.ID, "step", step, "err", execErr)
			o.finish(ctx, rec)
			return rec, &StepError{Step: step, Err: execErr}
		}

		var status domain.StepStatus
		if step == domain.StepAnalyze {
			status, err = o.recordAnalysis(gen, outcome, staticIOCs)
			analyzed = true
		} else {
			status, err = o.recordStep(gen, step, outcome)
		}
		if err != nil {
			return domain.RunRecord{}, err
		}
		o.observer.StepFinished(step, status, elapsed)
		o.logger.Debug("Step finished", "run", runID, "step", step, "status", status, "elapsed", elapsed)
	}

	rec, err := o.complete(gen, analyzed)
	if err != nil {
		return domain.RunRecord{}, err
	}
	o.logger.Info("✅ Run completed", "run", rec.ID, "report", rec.HasReport(), "indicators", len(rec.Indicators()))
	o.finish(ctx, rec)
	return rec, nil
}

// Refine runs one extra delegated refinement pass over the current artifact of a
// completed run. Nothing is recorded when the pass fails. An empty provider
// reuses the run's provider.
func (o *Orchestrator) Refine(ctx context.Context, provider string) (domain.RunRecord, error) {
	o.mu.Lock()
	switch {
	case o.run.State == domain.RunIdle:
		o.mu.Unlock()
		return domain.RunRecord{}, ErrNoArtifact
	case o.run.State == domain.RunRunning || o.refining:
		o.mu.Unlock()
		return domain.RunRecord{}, ErrRunInProgress
	case o.run.State == domain.RunAborted:
		o.mu.Unlock()
		return domain.RunRecord{}, ErrRunNotCompleted
	}
	if provider == "" {
		provider = o.run.Provider
	}
	gen := o.generation
	artifact := o.run.Artifact
	o.refining = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.refining = false
		o.mu.Unlock()
	}()

	collaborator, _, err := o.resolveCollaborator(provider, []domain.Step{domain.StepRefine})
	if err != nil {
		return domain.RunRecord{}, err
	}

	started := o.now()
	outcome, execErr := o.newExecutor(collaborator).Execute(ctx, domain.StepRefine, artifact)
	elapsed := o.now().Sub(started)

	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		return domain.RunRecord{}, ErrRunSuperseded
	}
	if execErr != nil {
		o.mu.Unlock()
		o.observer.StepFinished(domain.StepRefine, domain.StatusError, elapsed)
		o.logger.Warn("⚠️ Refinement failed", "run", o.snapshotID(), "err", execErr)
		return domain.RunRecord{}, &StepError{Step: domain.StepRefine, Err: execErr}
	}

	content := outcome.Content
	if content == "" {
		content = o.run.Artifact
	}
	o.run.Artifact = content
	o.run.History = append(o.run.History, domain.StepResult{
		Step:        domain.StepRefine,
		Content:     content,
		Description: "Iterative logic refinement complete.",
		Status:      domain.StatusSuccess,
		Timestamp:   o.now(),
	})
	rec := o.snapshotLocked()
	o.mu.Unlock()

	o.observer.StepFinished(domain.StepRefine, domain.StatusSuccess, elapsed)
	o.persist(ctx, rec)
	return rec, nil
}

// CurrentArtifact returns the most recent code artifact of the current run. The
// analysis report is never returned. Empty when no run has started.
func (o *Orchestrator) CurrentArtifact() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run.Artifact
}

// Snapshot returns a copy of the current run, safe to read while a run is in flight.
func (o *Orchestrator) Snapshot() domain.RunRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Reset abandons any in-flight run and returns to Idle with an empty history.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.generation++
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.run = domain.RunRecord{State: domain.RunIdle}
}

// validateSteps keeps the step order fixed: a run is either the full pipeline or
// its local prefix.
func validateSteps(steps []domain.Step) ([]domain.Step, error) {
	if len(steps) == 0 {
		return domain.DefaultSteps(), nil
	}
	for _, step := range steps {
		if !step.IsKnown() {
			return nil, fmt.Errorf("%w %q", ErrUnknownStep, step)
		}
	}
	for _, allowed := range [][]domain.Step{domain.DefaultSteps(), domain.OfflineSteps()} {
		if slices.Equal(steps, allowed) {
			return allowed, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidStepOrder, steps)
}

// resolveCollaborator returns the collaborator and provider id for steps. Both
// are empty when every step is deterministic.
func (o *Orchestrator) resolveCollaborator(provider string, steps []domain.Step) (ports.Collaborator, string, error) {
	delegated := false
	for _, step := range steps {
		if !step.IsKnown() {
			return nil, "", fmt.Errorf("%w %q", ErrUnknownStep, step)
		}
		if !step.IsDeterministic() {
			delegated = true
		}
	}
	if !delegated {
		return nil, "", nil
	}
	if o.collaborators == nil {
		return nil, "", ErrNoCollaborator
	}

	if provider == "" {
		provider = o.defaultProvider
	}
	collaborator, err := o.collaborators.Get(provider)
	if err != nil {
		return nil, "", err
	}
	return collaborator, provider, nil
}

// start supersedes any previous run and resets state for a new one.
func (o *Orchestrator) start(ctx context.Context, input, provider string) (context.Context, uint64, domain.RunRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.generation++
	if o.cancel != nil {
		o.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.run = domain.RunRecord{State: domain.RunIdle}
	if err := transition(&o.run, domain.RunRunning); err != nil {
		cancel()
		return nil, 0, domain.RunRecord{}, err
	}
	o.run.ID = uuid.New().String()
	o.run.Provider = provider
	o.run.Input = input
	o.run.Artifact = input
	o.run.History = []domain.StepResult{}
	o.run.StartedAt = o.now()

	return runCtx, o.generation, o.snapshotLocked(), nil
}

// release cancels the run context once the run that owns it returns.
func (o *Orchestrator) release(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen == o.generation && o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

func (o *Orchestrator) enterStep(gen uint64, index int) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.generation {
		return "", ErrRunSuperseded
	}
	o.run.StepIndex = index
	return o.run.Artifact, nil
}

func (o *Orchestrator) recordStep(gen uint64, step domain.Step, outcome ports.Outcome) (domain.StepStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.generation {
		return "", ErrRunSuperseded
	}

	if outcome.Content != "" {
		o.run.Artifact = outcome.Content
	}
	status := domain.StatusSuccess
	if outcome.Warning {
		status = domain.StatusWarning
	}

	o.run.History = append(o.run.History, domain.StepResult{
		Step:        step,
		Content:     o.run.Artifact,
		Description: outcome.Description,
		Status:      status,
		Timestamp:   o.now(),
	})
	return status, nil
}

// recordAnalysis parses the report and merges static indicators into it. The
// working artifact is left untouched.
func (o *Orchestrator) recordAnalysis(gen uint64, outcome ports.Outcome, staticIOCs []domain.Indicator) (domain.StepStatus, error) {
	report, parseErr := domain.ParseAnalysisSummary(outcome.Content)

	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.generation {
		return "", ErrRunSuperseded
	}

	o.run.StaticIndicators = staticIOCs
	o.observer.StaticIndicatorsFound(staticIOCs)
	status := domain.StatusSuccess
	description := outcome.Description
	if parseErr != nil {
		o.logger.Warn("⚠️ Analysis report could not be parsed", "run", o.run.ID, "err", parseErr)
		status = domain.StatusWarning
		description = "Analysis completed but no structured report could be parsed."
	} else {
		report.MergeStaticIndicators(staticIOCs)
		if o.reportFilter != nil {
			o.reportFilter(report)
		}
		o.run.Report = report
	}

	o.run.History = append(o.run.History, domain.StepResult{
		Step:        domain.StepAnalyze,
		Content:     outcome.Content,
		Description: description,
		Status:      status,
		Timestamp:   o.now(),
	})
	return status, nil
}

func (o *Orchestrator) abort(gen uint64, step domain.Step, artifact string, cause error) (domain.RunRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.generation {
		return domain.RunRecord{}, ErrRunSuperseded
	}

	o.run.History = append(o.run.History, domain.StepResult{
		Step:        step,
		Content:     artifact,
		Description: "Step interrupted by execution error: " + cause.Error(),
		Status:      domain.StatusError,
		Timestamp:   o.now(),
	})
	if err := transition(&o.run, domain.RunAborted); err != nil {
		return domain.RunRecord{}, err
	}
	o.run.FinishedAt = o.now()
	return o.snapshotLocked(), nil
}

func (o *Orchestrator) complete(gen uint64, analyzed bool) (domain.RunRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.generation {
		return domain.RunRecord{}, ErrRunSuperseded
	}

	if !analyzed {
		o.run.StaticIndicators = domain.ScanStaticIOCs(o.run.Artifact)
		o.observer.StaticIndicatorsFound(o.run.StaticIndicators)
	}
	if err := transition(&o.run, domain.RunCompleted); err != nil {
		return domain.RunRecord{}, err
	}
	o.run.FinishedAt = o.now()
	return o.snapshotLocked(), nil
}

// finish records metrics, persists and notifies for a run that reached a terminal state.
func (o *Orchestrator) finish(ctx context.Context, rec domain.RunRecord) {
	o.observer.RunFinished(rec.State, rec.HasReport())
	o.persist(ctx, rec)

	if o.notifier == nil {
		return
	}
	var err error
	if rec.State == domain.RunAborted {
		err = o.notifier.NotifyRunAborted(rec)
	} else {
		err = o.notifier.NotifyRunCompleted(rec)
	}
	if err != nil {
		o.logger.Warn("⚠️ Failed to send run notification", "run", rec.ID, "err", err)
	}
}

func (o *Orchestrator) persist(ctx context.Context, rec domain.RunRecord) {
	if o.repo == nil {
		return
	}
	// The caller's context may already be cancelled once the run finished.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.repo.SaveRun(saveCtx, rec); err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Error("❌ Failed to persist run", "run", rec.ID, "err", err)
	}
}

func (o *Orchestrator) snapshotID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run.ID
}

func (o *Orchestrator) snapshotLocked() domain.RunRecord {
	rec := o.run
	rec.History = make([]domain.StepResult, len(o.run.History))
	copy(rec.History, o.run.History)
	rec.StaticIndicators = append([]domain.Indicator(nil), o.run.StaticIndicators...)
	if o.run.Report != nil {
		report := *o.run.Report
		report.IOCs = append([]domain.Indicator(nil), o.run.Report.IOCs...)
		rec.Report = &report
	}
	return rec
}
