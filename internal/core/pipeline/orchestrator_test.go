package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hive-corporation/dfir-engine/internal/core/domain"
	"github.com/hive-corporation/dfir-engine/internal/core/ports"
	"github.com/hive-corporation/dfir-engine/internal/logging"
)

// fakeCollaborator appends a marker per step unless told otherwise.
type fakeCollaborator struct {
	mu        sync.Mutex
	responses map[domain.Step]string
	failOn    map[domain.Step]error
	inputs    map[domain.Step]string
	calls     []domain.Step

	blockOn   domain.Step
	entered   chan struct{}
	enterOnce sync.Once
}

func (f *fakeCollaborator) ID() string   { return "fake" }
func (f *fakeCollaborator) Name() string { return "Fake Model" }

func (f *fakeCollaborator) ProcessStep(ctx context.Context, step domain.Step, code string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, step)
	if f.inputs == nil {
		f.inputs = make(map[domain.Step]string)
	}
	f.inputs[step] = code
	f.mu.Unlock()

	if f.blockOn != "" && step == f.blockOn {
		f.enterOnce.Do(func() { close(f.entered) })
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err := f.failOn[step]; err != nil {
		return "", err
	}
	if resp, ok := f.responses[step]; ok {
		return resp, nil
	}
	return code + "\n// " + string(step), nil
}

func (f *fakeCollaborator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRegistry map[string]ports.Collaborator

func (r fakeRegistry) Get(id string) (ports.Collaborator, error) {
	c, ok := r[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrUnknownProvider, id)
	}
	return c, nil
}

type fakeRepo struct {
	mu    sync.Mutex
	saved []domain.RunRecord
}

func (r *fakeRepo) SaveRun(ctx context.Context, run domain.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, run)
	return nil
}

func (r *fakeRepo) FindRun(ctx context.Context, id string) (*domain.RunRecord, error) {
	return nil, ports.ErrRunNotFound
}

func (r *fakeRepo) FindRecent(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	return nil, nil
}

func (r *fakeRepo) FindIndicatorsSince(ctx context.Context, since time.Time, limit int) ([]domain.Indicator, error) {
	return nil, nil
}

type fakeNotifier struct {
	completed []domain.RunRecord
	aborted   []domain.RunRecord
}

func (n *fakeNotifier) NotifyRunCompleted(run domain.RunRecord) error {
	n.completed = append(n.completed, run)
	return nil
}

func (n *fakeNotifier) NotifyRunAborted(run domain.RunRecord) error {
	n.aborted = append(n.aborted, run)
	return nil
}

type recordingObserver struct {
	mu       sync.Mutex
	steps    []domain.StepStatus
	runs     []domain.RunState
	static   int
	reported []bool
}

func (r *recordingObserver) StepFinished(step domain.Step, status domain.StepStatus, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, status)
}

func (r *recordingObserver) RunFinished(state domain.RunState, hasReport bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, state)
	r.reported = append(r.reported, hasReport)
}

func (r *recordingObserver) StaticIndicatorsFound(iocs []domain.Indicator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.static += len(iocs)
}

const modelReport = `{"attackVector":"loader","ioCs":[{"type":"URL","value":"http://x.test/a","context":"model"}],"threatLevel":"high"}`

func newTestOrchestrator(collaborator ports.Collaborator) *Orchestrator {
	return New(Config{
		Collaborators: fakeRegistry{"fake": collaborator},
		Logger:        logging.Discard(),
	})
}

func TestRun_CompletesWithReport(t *testing.T) {
	collab := &fakeCollaborator{responses: map[domain.Step]string{domain.StepAnalyze: modelReport}}
	repo := &fakeRepo{}
	notifier := &fakeNotifier{}
	observer := &recordingObserver{}
	o := New(Config{
		Collaborators: fakeRegistry{"fake": collab},
		Repository:    repo,
		Notifier:      notifier,
		Observer:      observer,
		Logger:        logging.Discard(),
	})

	rec, err := o.Run(context.Background(), RunRequest{Input: "fetch('HTTP://X.TEST/a')", Provider: "fake"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if rec.State != domain.RunCompleted {
		t.Errorf("state = %s, want completed", rec.State)
	}
	if len(rec.History) != len(domain.DefaultSteps()) {
		t.Fatalf("history has %d entries, want %d", len(rec.History), len(domain.DefaultSteps()))
	}
	for i, res := range rec.History {
		if res.Step != domain.DefaultSteps()[i] {
			t.Errorf("history[%d].Step = %s, want %s", i, res.Step, domain.DefaultSteps()[i])
		}
		if res.Status != domain.StatusSuccess {
			t.Errorf("history[%d].Status = %s, want success", i, res.Status)
		}
	}

	if !rec.HasReport() {
		t.Fatal("expected a parsed report")
	}
	if len(rec.Report.IOCs) != 1 || rec.Report.IOCs[0].Context != "model" {
		t.Errorf("static URL differing only in case must not be merged twice: %+v", rec.Report.IOCs)
	}
	if len(rec.StaticIndicators) != 1 {
		t.Errorf("static indicators = %+v, want one URL", rec.StaticIndicators)
	}

	wantArtifact := collab.inputs[domain.StepAnalyze]
	if rec.Artifact != wantArtifact || o.CurrentArtifact() != wantArtifact {
		t.Errorf("artifact should be the input of the analysis step\n got: %q\nwant: %q", rec.Artifact, wantArtifact)
	}
	if strings.Contains(o.CurrentArtifact(), "attackVector") {
		t.Error("CurrentArtifact must never return the analysis report")
	}

	if len(repo.saved) != 1 || repo.saved[0].ID != rec.ID {
		t.Errorf("expected the finished run to be persisted once, got %d", len(repo.saved))
	}
	if len(notifier.completed) != 1 || len(notifier.aborted) != 0 {
		t.Errorf("expected one completion notification, got completed=%d aborted=%d", len(notifier.completed), len(notifier.aborted))
	}
	if len(observer.steps) != len(domain.DefaultSteps()) || observer.static != 1 {
		t.Errorf("observer saw %d steps and %d static indicators", len(observer.steps), observer.static)
	}
	if len(observer.runs) != 1 || observer.runs[0] != domain.RunCompleted || !observer.reported[0] {
		t.Errorf("observer runs = %v reported = %v", observer.runs, observer.reported)
	}
}

func TestRun_AbortSemantics(t *testing.T) {
	collab := &fakeCollaborator{
		responses: map[domain.Step]string{
			domain.StepDecompile:        "step-one",
			domain.StepReferenceResolve: "step-two",
		},
		failOn: map[domain.Step]error{domain.StepSemanticCleanup: errors.New("provider returned 503")},
	}
	notifier := &fakeNotifier{}
	o := New(Config{
		Collaborators: fakeRegistry{"fake": collab},
		Notifier:      notifier,
		Logger:        logging.Discard(),
	})

	rec, err := o.Run(context.Background(), RunRequest{Input: "raw", Provider: "fake"})

	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != domain.StepSemanticCleanup {
		t.Fatalf("expected StepError for SEMANTIC_CLEANUP, got %v", err)
	}
	if rec.State != domain.RunAborted {
		t.Errorf("state = %s, want aborted", rec.State)
	}

	var success, failed int
	for _, res := range rec.History {
		switch res.Status {
		case domain.StatusSuccess:
			success++
		case domain.StatusError:
			failed++
		}
	}
	if success != 5 || failed != 1 || len(rec.History) != 6 {
		t.Errorf("history = %+v, want 5 successes and 1 error", rec.History)
	}
	if got := o.CurrentArtifact(); got != "step-two" {
		t.Errorf("CurrentArtifact() = %q, want artifact of step 2", got)
	}
	if rec.History[5].Content != "step-two" {
		t.Errorf("error entry should carry the last good artifact, got %q", rec.History[5].Content)
	}
	if !strings.Contains(rec.History[5].Description, "503") {
		t.Errorf("error description should include the cause: %q", rec.History[5].Description)
	}
	if collab.callCount() != 3 {
		t.Errorf("no step may run after a failure; collaborator called %d times", collab.callCount())
	}
	if failedStep, ok := rec.FailedStep(); !ok || failedStep.Step != domain.StepSemanticCleanup {
		t.Errorf("FailedStep() = %+v, %v", failedStep, ok)
	}
	if len(notifier.aborted) != 1 {
		t.Errorf("expected an abort notification")
	}
}

func TestRun_EmptyOutputKeepsArtifact(t *testing.T) {
	collab := &fakeCollaborator{
		responses: map[domain.Step]string{
			domain.StepDecompile:        "",
			domain.StepReferenceResolve: "",
			domain.StepSemanticCleanup:  "",
			domain.StepAnalyze:          modelReport,
		},
	}
	o := newTestOrchestrator(collab)

	rec, err := o.Run(context.Background(), RunRequest{Input: "original();", Provider: "fake"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	local := rec.History[2].Content
	if rec.Artifact != local {
		t.Errorf("artifact = %q, want the last local artifact %q", rec.Artifact, local)
	}
	if rec.History[3].Step != domain.StepDecompile || rec.History[3].Content != local {
		t.Errorf("history entry = %+v, want the previous artifact", rec.History[3])
	}
}

func TestRun_CompletedWithoutReport(t *testing.T) {
	collab := &fakeCollaborator{responses: map[domain.Step]string{domain.StepAnalyze: "Sorry, I cannot help with that."}}
	o := newTestOrchestrator(collab)

	rec, err := o.Run(context.Background(), RunRequest{Input: "connect('10.1.1.1')", Provider: "fake"})
	if err != nil {
		t.Fatalf("report parse failures must not surface as errors: %v", err)
	}

	if rec.State != domain.RunCompleted {
		t.Errorf("state = %s, want completed", rec.State)
	}
	if rec.HasReport() {
		t.Error("expected no report")
	}
	last := rec.History[len(rec.History)-1]
	if last.Step != domain.StepAnalyze || last.Status != domain.StatusWarning {
		t.Errorf("last history entry = %+v, want ANALYZE warning", last)
	}
	if len(rec.Indicators()) != 1 || rec.Indicators()[0].Value != "10.1.1.1" {
		t.Errorf("static indicators should still be exposed: %+v", rec.Indicators())
	}
}

func TestRun_ReportFilterApplied(t *testing.T) {
	collab := &fakeCollaborator{responses: map[domain.Step]string{domain.StepAnalyze: modelReport}}
	o := New(Config{
		Collaborators: fakeRegistry{"fake": collab},
		ReportFilter: func(s *domain.AnalysisSummary) {
			s.ThreatLevel = domain.ThreatCritical
		},
		Logger: logging.Discard(),
	})

	rec, err := o.Run(context.Background(), RunRequest{Input: "x();", Provider: "fake"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if rec.Report.ThreatLevel != domain.ThreatCritical {
		t.Errorf("ThreatLevel = %s, want filtered value", rec.Report.ThreatLevel)
	}
}

func TestRun_RejectsBadRequests(t *testing.T) {
	o := newTestOrchestrator(&fakeCollaborator{})

	if _, err := o.Run(context.Background(), RunRequest{Input: "  ", Provider: "fake"}); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("empty input: got %v, want ErrEmptyInput", err)
	}
	if _, err := o.Run(context.Background(), RunRequest{Input: "x", Provider: "nope"}); !errors.Is(err, ports.ErrUnknownProvider) {
		t.Errorf("unknown provider: got %v, want ErrUnknownProvider", err)
	}
	if _, err := o.Run(context.Background(), RunRequest{Input: "x", Steps: []domain.Step{"BOGUS"}}); !errors.Is(err, ErrUnknownStep) {
		t.Error("unknown step: expected error")
	}

	if snap := o.Snapshot(); snap.State != domain.RunIdle || len(snap.History) != 0 {
		t.Errorf("rejected requests must not touch state: %+v", snap)
	}
}

func TestRun_RejectsCustomStepOrder(t *testing.T) {
	collab := &fakeCollaborator{responses: map[domain.Step]string{domain.StepAnalyze: modelReport}}
	o := newTestOrchestrator(collab)

	tests := []struct {
		name  string
		steps []domain.Step
	}{
		{"Analysis first and twice", []domain.Step{domain.StepAnalyze, domain.StepRotationResolve, domain.StepStabilize, domain.StepRefine, domain.StepAnalyze}},
		{"Analysis only", []domain.Step{domain.StepAnalyze, domain.StepStabilize}},
		{"Local steps reordered", []domain.Step{domain.StepLiteralDecode, domain.StepStabilize, domain.StepRotationResolve}},
		{"Delegated steps only", []domain.Step{domain.StepDecompile, domain.StepReferenceResolve, domain.StepSemanticCleanup, domain.StepAnalyze}},
		{"Refine inside a run", append(domain.DefaultSteps(), domain.StepRefine)},
		{"Missing terminal analysis", domain.DefaultSteps()[:6]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Run(context.Background(), RunRequest{Input: "x();", Provider: "fake", Steps: tt.steps})
			if !errors.Is(err, ErrInvalidStepOrder) {
				t.Errorf("Run() error = %v, want ErrInvalidStepOrder", err)
			}
		})
	}

	if collab.callCount() != 0 {
		t.Errorf("rejected runs must not reach the collaborator, got %d calls", collab.callCount())
	}
	if snap := o.Snapshot(); snap.State != domain.RunIdle {
		t.Errorf("rejected runs must not touch state: %+v", snap)
	}

	for _, steps := range [][]domain.Step{domain.DefaultSteps(), domain.OfflineSteps()} {
		if _, err := o.Run(context.Background(), RunRequest{Input: "x();", Provider: "fake", Steps: steps}); err != nil {
			t.Errorf("Run(%v) error = %v", steps, err)
		}
	}
}

func TestRun_DefaultProvider(t *testing.T) {
	collab := &fakeCollaborator{responses: map[domain.Step]string{
		domain.StepAnalyze: modelReport,
		domain.StepRefine:  "refined();",
	}}
	o := New(Config{
		Collaborators:   fakeRegistry{"fake": collab},
		DefaultProvider: "fake",
		Logger:          logging.Discard(),
	})

	rec, err := o.Run(context.Background(), RunRequest{Input: "x();"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if rec.Provider != "fake" || rec.State != domain.RunCompleted {
		t.Errorf("run = %+v, want completed with the default provider", rec)
	}
	if _, err := o.Refine(context.Background(), ""); err != nil {
		t.Errorf("Refine() error = %v", err)
	}

	offline, err := o.Run(context.Background(), RunRequest{Input: "x();", Steps: domain.OfflineSteps()})
	if err != nil {
		t.Fatalf("offline Run() error = %v", err)
	}
	if offline.Provider != "" {
		t.Errorf("offline run provider = %q, want empty", offline.Provider)
	}
	// Offline runs have no provider; refinement falls back to the default one.
	if _, err := o.Refine(context.Background(), ""); err != nil {
		t.Errorf("Refine() after offline run error = %v", err)
	}

	if _, err := o.Run(context.Background(), RunRequest{Input: "x();", Provider: "nope"}); !errors.Is(err, ports.ErrUnknownProvider) {
		t.Errorf("explicit provider must win over the default: got %v", err)
	}
}

func TestRun_OfflineWithoutCollaborators(t *testing.T) {
	o := New(Config{Logger: logging.Discard()})

	input := "const p = ['x','y','z'];(function(a, n){while(--n){a.push(a.shift());}})(p, 2);var u='\\x31\\x2e\\x32\\x2e\\x33\\x2e\\x34';"
	rec, err := o.Run(context.Background(), RunRequest{Input: input, Steps: domain.OfflineSteps()})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(rec.History) != 3 {
		t.Fatalf("history = %+v", rec.History)
	}
	if rec.History[2].Step != domain.StepRotationResolve || rec.History[2].Status != domain.StatusWarning {
		t.Errorf("ambiguous rotation should be a warning: %+v", rec.History[2])
	}
	if !strings.Contains(rec.Artifact, `["z","x","y"]`) {
		t.Errorf("artifact should hold the rotated pool:\n%s", rec.Artifact)
	}
	if len(rec.StaticIndicators) != 1 || rec.StaticIndicators[0].Value != "1.2.3.4" {
		t.Errorf("static indicators = %+v, want decoded IP", rec.StaticIndicators)
	}

	if _, err := o.Run(context.Background(), RunRequest{Input: "x", Provider: "fake"}); !errors.Is(err, ErrNoCollaborator) {
		t.Errorf("delegated steps without collaborators: got %v", err)
	}
}

func TestRun_NewRunSupersedesPrevious(t *testing.T) {
	slow := &fakeCollaborator{blockOn: domain.StepDecompile, entered: make(chan struct{})}
	o := newTestOrchestrator(slow)

	errCh := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), RunRequest{Input: "first();", Provider: "fake"})
		errCh <- err
	}()

	select {
	case <-slow.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never reached the delegated step")
	}

	rec, err := o.Run(context.Background(), RunRequest{Input: "second();", Steps: domain.OfflineSteps()})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrRunSuperseded) {
			t.Errorf("first run error = %v, want ErrRunSuperseded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first run was not cancelled")
	}

	snap := o.Snapshot()
	if snap.ID != rec.ID || snap.Input != "second();" {
		t.Errorf("snapshot belongs to the wrong run: %+v", snap)
	}
	if len(snap.History) != 3 {
		t.Errorf("superseded run wrote into the new history: %+v", snap.History)
	}
}

func TestRun_SupersededAnalysisRecordsNoIndicators(t *testing.T) {
	slow := &fakeCollaborator{blockOn: domain.StepAnalyze, entered: make(chan struct{})}
	observer := &recordingObserver{}
	o := New(Config{
		Collaborators: fakeRegistry{"fake": slow},
		Observer:      observer,
		Logger:        logging.Discard(),
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), RunRequest{Input: "beacon('203.0.113.9');", Provider: "fake"})
		errCh <- err
	}()

	select {
	case <-slow.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never reached the analysis step")
	}

	if _, err := o.Run(context.Background(), RunRequest{Input: "second();", Steps: domain.OfflineSteps()}); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrRunSuperseded) {
			t.Fatalf("first run error = %v, want ErrRunSuperseded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first run was not cancelled")
	}

	observer.mu.Lock()
	defer observer.mu.Unlock()
	if observer.static != 0 {
		t.Errorf("superseded run recorded %d static indicators", observer.static)
	}
}

func TestReset(t *testing.T) {
	o := newTestOrchestrator(&fakeCollaborator{responses: map[domain.Step]string{domain.StepAnalyze: modelReport}})

	if _, err := o.Run(context.Background(), RunRequest{Input: "x();", Provider: "fake"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	o.Reset()

	snap := o.Snapshot()
	if snap.State != domain.RunIdle || len(snap.History) != 0 || snap.Report != nil {
		t.Errorf("Reset() left state behind: %+v", snap)
	}
	if o.CurrentArtifact() != "" {
		t.Errorf("CurrentArtifact() = %q after reset", o.CurrentArtifact())
	}
}

func TestRefine(t *testing.T) {
	t.Run("Appends on success", func(t *testing.T) {
		collab := &fakeCollaborator{responses: map[domain.Step]string{
			domain.StepAnalyze: modelReport,
			domain.StepRefine:  "refined();",
		}}
		o := newTestOrchestrator(collab)
		first, err := o.Run(context.Background(), RunRequest{Input: "x();", Provider: "fake"})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		rec, err := o.Refine(context.Background(), "")
		if err != nil {
			t.Fatalf("Refine() error = %v", err)
		}
		if len(rec.History) != len(first.History)+1 {
			t.Errorf("history length = %d, want %d", len(rec.History), len(first.History)+1)
		}
		last := rec.History[len(rec.History)-1]
		if last.Step != domain.StepRefine || last.Status != domain.StatusSuccess {
			t.Errorf("last entry = %+v", last)
		}
		if o.CurrentArtifact() != "refined();" {
			t.Errorf("CurrentArtifact() = %q", o.CurrentArtifact())
		}
		if rec.State != domain.RunCompleted {
			t.Errorf("refine must not change the run state: %s", rec.State)
		}
	})

	t.Run("Failure records nothing", func(t *testing.T) {
		collab := &fakeCollaborator{
			responses: map[domain.Step]string{domain.StepAnalyze: modelReport},
			failOn:    map[domain.Step]error{domain.StepRefine: errors.New("timeout")},
		}
		o := newTestOrchestrator(collab)
		first, _ := o.Run(context.Background(), RunRequest{Input: "x();", Provider: "fake"})

		_, err := o.Refine(context.Background(), "")
		var stepErr *StepError
		if !errors.As(err, &stepErr) || stepErr.Step != domain.StepRefine {
			t.Fatalf("Refine() error = %v, want StepError", err)
		}
		if snap := o.Snapshot(); len(snap.History) != len(first.History) || snap.Artifact != first.Artifact {
			t.Errorf("failed refinement changed the run: %+v", snap)
		}
	})

	t.Run("Rejected without a completed run", func(t *testing.T) {
		collab := &fakeCollaborator{failOn: map[domain.Step]error{domain.StepDecompile: errors.New("boom")}}
		o := newTestOrchestrator(collab)

		if _, err := o.Refine(context.Background(), "fake"); !errors.Is(err, ErrNoArtifact) {
			t.Errorf("idle: got %v, want ErrNoArtifact", err)
		}

		_, _ = o.Run(context.Background(), RunRequest{Input: "x();", Provider: "fake"})
		if _, err := o.Refine(context.Background(), ""); !errors.Is(err, ErrRunNotCompleted) {
			t.Errorf("aborted: got %v, want ErrRunNotCompleted", err)
		}
	})
}

func TestSnapshot_IsACopy(t *testing.T) {
	o := newTestOrchestrator(&fakeCollaborator{responses: map[domain.Step]string{domain.StepAnalyze: modelReport}})
	if _, err := o.Run(context.Background(), RunRequest{Input: "x();", Provider: "fake"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	snap := o.Snapshot()
	snap.History[0].Content = "tampered"
	snap.Report.IOCs[0].Value = "tampered"

	again := o.Snapshot()
	if again.History[0].Content == "tampered" || again.Report.IOCs[0].Value == "tampered" {
		t.Error("Snapshot() must not expose internal state")
	}
}

func TestStart_RunsInBackground(t *testing.T) {
	o := newTestOrchestrator(&fakeCollaborator{responses: map[domain.Step]string{domain.StepAnalyze: modelReport}})

	initial, done, err := o.Start(context.Background(), RunRequest{Input: "fetch('http://x.test/a');", Provider: "fake"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if initial.State != domain.RunRunning || initial.ID == "" || len(initial.History) != 0 {
		t.Errorf("initial snapshot = %+v", initial)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("background run error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("background run did not finish")
	}

	snap := o.Snapshot()
	if snap.ID != initial.ID || snap.State != domain.RunCompleted || !snap.HasReport() {
		t.Errorf("final snapshot = %+v", snap)
	}

	if _, _, err := o.Start(context.Background(), RunRequest{Input: ""}); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("Start() with empty input: got %v", err)
	}
}
