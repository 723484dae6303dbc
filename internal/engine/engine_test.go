// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/stepflow/internal/audit"
	"github.com/jeranaias/stepflow/internal/provider"
	"github.com/jeranaias/stepflow/internal/session"
	"github.com/jeranaias/stepflow/internal/shell"
	"github.com/jeranaias/stepflow/internal/task"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeProvider struct {
	proposals    []provider.ProposedStep
	decomposeErr error

	executeText  string
	executeErr   error
	executePanic bool
	executeCalls int

	adviceText  string
	adviceErr   error
	adviceCalls int
}

func (f *fakeProvider) DecomposeTask(ctx context.Context, prompt string) ([]provider.ProposedStep, error) {
	if f.decomposeErr != nil {
		return nil, f.decomposeErr
	}
	return f.proposals, nil
}

func (f *fakeProvider) Execute(ctx context.Context, instruction string) (string, error) {
	f.executeCalls++
	if f.executePanic {
		panic("provider exploded")
	}
	if f.executeErr != nil {
		return "", f.executeErr
	}
	return f.executeText, nil
}

func (f *fakeProvider) HandleError(ctx context.Context, instruction, errText string) (string, error) {
	f.adviceCalls++
	if f.adviceErr != nil {
		return "", f.adviceErr
	}
	return f.adviceText, nil
}

// fakeRunner scripts command results by exact command text. Commands
// with no scripted result succeed with exit 0.
type fakeRunner struct {
	results map[string]*shell.Result
	errs    map[string]error
	calls   []string
	hook    func(command string)
}

func (f *fakeRunner) Execute(ctx context.Context, command string) (*shell.Result, error) {
	f.calls = append(f.calls, command)
	if f.hook != nil {
		f.hook(command)
	}
	if err, ok := f.errs[command]; ok {
		return nil, err
	}
	if res, ok := f.results[command]; ok {
		return res, nil
	}
	return &shell.Result{Command: command, ExitCode: 0, Stdout: "ok", Output: "ok"}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func cmdStep(name, command string, deps ...string) task.Step {
	var d []string
	if len(deps) > 0 {
		d = deps
	}
	return task.NewStep(name, "run "+command, command, d)
}

func newTestContext(t *testing.T, store session.Store, steps ...task.Step) *task.Context {
	t.Helper()
	tctx, err := store.Create("test prompt")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	tctx.Steps = steps
	if err := store.Save(tctx); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return tctx
}

// =============================================================================
// FULL TASK EXECUTION
// =============================================================================

func TestExecuteTask_AllStepsComplete(t *testing.T) {
	store := session.NewMemoryStore()
	runner := &fakeRunner{}
	eng := New(store, &fakeProvider{}, runner, nil, Options{AutoSave: true})

	a := cmdStep("download package", "curl -O nginx.deb")
	b := cmdStep("install package", "dpkg -i nginx.deb", a.ID)
	c := cmdStep("verify install", "nginx -v", b.ID)
	tctx := newTestContext(t, store, a, b, c)

	if err := eng.ExecuteTask(context.Background(), tctx); err != nil {
		t.Fatalf("ExecuteTask() error = %v", err)
	}

	if tctx.Status != task.StatusCompleted {
		t.Errorf("task status = %s, want completed", tctx.Status)
	}
	if tctx.CurrentStepIndex != len(tctx.Steps) {
		t.Errorf("cursor = %d, want %d", tctx.CurrentStepIndex, len(tctx.Steps))
	}
	for i := range tctx.Steps {
		s := &tctx.Steps[i]
		if s.Status != task.StepCompleted {
			t.Errorf("step %q status = %s, want completed", s.Name, s.Status)
		}
		if s.Result == "" {
			t.Errorf("step %q has empty result", s.Name)
		}
		if s.StartedAt.IsZero() || s.CompletedAt.IsZero() {
			t.Errorf("step %q missing timestamps", s.Name)
		}
	}

	loaded, err := store.Load(tctx.ID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Status != task.StatusCompleted {
		t.Errorf("persisted status = %s, want completed", loaded.Status)
	}
}

func TestExecuteTask_FailedStepRetriesThenSkips(t *testing.T) {
	store := session.NewMemoryStore()
	runner := &fakeRunner{
		results: map[string]*shell.Result{
			"chmod 600 /etc/shadow": {
				ExitCode: 1,
				Stderr:   "chmod: permission denied",
				Output:   "chmod: permission denied",
			},
		},
	}
	eng := New(store, &fakeProvider{}, runner, nil, Options{MaxRetries: 2, AutoSave: true})

	bad := cmdStep("tighten perms", "chmod 600 /etc/shadow")
	good := cmdStep("list home", "ls ~")
	tctx := newTestContext(t, store, bad, good)

	if err := eng.ExecuteTask(context.Background(), tctx); err != nil {
		t.Fatalf("ExecuteTask() error = %v", err)
	}

	failed := tctx.Step(bad.ID)
	if failed.Status != task.StepSkipped {
		t.Errorf("failing step status = %s, want skipped", failed.Status)
	}
	if !strings.Contains(failed.Error, "permission denied") {
		t.Errorf("step error = %q, want stderr content", failed.Error)
	}
	if got := tctx.RetryCount(bad.ID); got != 2 {
		t.Errorf("retry count = %d, want 2", got)
	}

	// initial attempt plus two retries
	attempts := 0
	for _, c := range runner.calls {
		if c == "chmod 600 /etc/shadow" {
			attempts++
		}
	}
	if attempts != 3 {
		t.Errorf("failing command ran %d times, want 3", attempts)
	}

	// partial completion still counts
	if tctx.Status != task.StatusCompleted {
		t.Errorf("task status = %s, want completed", tctx.Status)
	}
	if tctx.Step(good.ID).Status != task.StepCompleted {
		t.Errorf("good step status = %s, want completed", tctx.Step(good.ID).Status)
	}
}

func TestExecuteTask_CriticalStepAbortsTask(t *testing.T) {
	store := session.NewMemoryStore()
	runner := &fakeRunner{
		results: map[string]*shell.Result{
			"mount /dev/sda1 /mnt": {ExitCode: 1, Stderr: "mount failed", Output: "mount failed"},
		},
	}
	eng := New(store, &fakeProvider{}, runner, nil, Options{MaxRetries: 1, AutoSave: true})

	critical := cmdStep("critical: mount data disk", "mount /dev/sda1 /mnt")
	after := cmdStep("copy files", "cp -r /mnt/src /srv")
	tctx := newTestContext(t, store, critical, after)

	if err := eng.ExecuteTask(context.Background(), tctx); err != nil {
		t.Fatalf("ExecuteTask() error = %v", err)
	}

	if tctx.Status != task.StatusFailed {
		t.Errorf("task status = %s, want failed", tctx.Status)
	}
	if !strings.Contains(tctx.Metadata[task.MetaError], "critical") {
		t.Errorf("metadata error = %q, want critical diagnostic", tctx.Metadata[task.MetaError])
	}
	if tctx.Step(critical.ID).Status != task.StepFailed {
		t.Errorf("critical step status = %s, want failed", tctx.Step(critical.ID).Status)
	}
	if tctx.Step(after.ID).Status != task.StepPending {
		t.Errorf("subsequent step status = %s, want pending", tctx.Step(after.ID).Status)
	}
}

func TestExecuteTask_DryRunSkipsSubprocessesAndAudits(t *testing.T) {
	dir := t.TempDir()
	sink, err := audit.OpenSink(audit.SinkOptions{
		Enabled: true,
		LogPath: filepath.Join(dir, "audit.jsonl"),
		DBPath:  filepath.Join(dir, "history.db"),
		KeyPath: filepath.Join(dir, "audit.key"),
	})
	if err != nil {
		t.Fatalf("OpenSink() error = %v", err)
	}

	store := session.NewMemoryStore()
	runner := &fakeRunner{}
	eng := New(store, &fakeProvider{}, runner, sink, Options{DryRun: true, AutoSave: true})

	tctx := newTestContext(t, store,
		cmdStep("update index", "apt-get update"),
		cmdStep("install", "apt-get install -y nginx"),
	)

	if err := eng.ExecuteTask(context.Background(), tctx); err != nil {
		t.Fatalf("ExecuteTask() error = %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("sink close error = %v", err)
	}

	if len(runner.calls) != 0 {
		t.Errorf("dry run spawned %d commands, want 0", len(runner.calls))
	}
	if tctx.Status != task.StatusCompleted {
		t.Errorf("task status = %s, want completed", tctx.Status)
	}
	for i := range tctx.Steps {
		if !strings.HasPrefix(tctx.Steps[i].Result, "DRY-RUN") {
			t.Errorf("step result = %q, want DRY-RUN prefix", tctx.Steps[i].Result)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "audit.jsonl"))
	if err != nil {
		t.Fatalf("reading audit log: %v", err)
	}
	stepEvents := 0
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var e struct {
			EventType string `json:"event_type"`
		}
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("bad audit line %q: %v", line, err)
		}
		if e.EventType == audit.EventStepExecuted {
			stepEvents++
		}
	}
	if stepEvents != 2 {
		t.Errorf("step audit events = %d, want 2", stepEvents)
	}

	hist, err := audit.OpenHistory(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("OpenHistory() error = %v", err)
	}
	defer hist.Close()
	count, err := hist.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("history rows = %d, want 2", count)
	}
}

func TestExecuteTask_ForwardDependencyRunsOutOfOrder(t *testing.T) {
	store := session.NewMemoryStore()
	runner := &fakeRunner{}
	eng := New(store, &fakeProvider{}, runner, nil, Options{AutoSave: true})

	build := cmdStep("build", "make build")
	deploy := cmdStep("deploy", "./deploy.sh", build.ID)
	// deploy listed first, but it depends on build
	tctx := newTestContext(t, store, deploy, build)

	if err := eng.ExecuteTask(context.Background(), tctx); err != nil {
		t.Fatalf("ExecuteTask() error = %v", err)
	}

	if tctx.Status != task.StatusCompleted {
		t.Errorf("task status = %s, want completed", tctx.Status)
	}
	want := []string{"make build", "./deploy.sh"}
	if len(runner.calls) != 2 || runner.calls[0] != want[0] || runner.calls[1] != want[1] {
		t.Errorf("execution order = %v, want %v", runner.calls, want)
	}
}

func TestExecuteTask_UnknownDependencyFailsTask(t *testing.T) {
	store := session.NewMemoryStore()
	eng := New(store, &fakeProvider{}, &fakeRunner{}, nil, Options{AutoSave: true})

	stuck := cmdStep("blocked step", "echo never", "no-such-step-id")
	tctx := newTestContext(t, store, stuck)

	if err := eng.ExecuteTask(context.Background(), tctx); err != nil {
		t.Fatalf("ExecuteTask() error = %v", err)
	}

	if tctx.Status != task.StatusFailed {
		t.Errorf("task status = %s, want failed", tctx.Status)
	}
	if !strings.Contains(tctx.Metadata[task.MetaError], "never became runnable") {
		t.Errorf("metadata error = %q, want unrunnable diagnostic", tctx.Metadata[task.MetaError])
	}
	if tctx.Step(stuck.ID).Status != task.StepPending {
		t.Errorf("blocked step status = %s, want pending", tctx.Step(stuck.ID).Status)
	}
}

func TestExecuteTask_PauseStopsLoopAndResumeFinishes(t *testing.T) {
	store := session.NewMemoryStore()
	runner := &fakeRunner{}
	eng := New(store, &fakeProvider{}, runner, nil, Options{AutoSave: true})

	tctx := newTestContext(t, store,
		cmdStep("first", "echo one"),
		cmdStep("second", "echo two"),
		cmdStep("third", "echo three"),
	)

	paused := false
	runner.hook = func(command string) {
		if command == "echo one" && !paused {
			paused = true
			eng.PauseTask(tctx, "operator break")
		}
	}

	if err := eng.ExecuteTask(context.Background(), tctx); err != nil {
		t.Fatalf("ExecuteTask() error = %v", err)
	}

	if tctx.Status != task.StatusInProgress {
		t.Errorf("paused task status = %s, want in_progress", tctx.Status)
	}
	if !tctx.Paused() {
		t.Error("pause flag not set")
	}
	if got := tctx.Metadata[task.MetaPauseReason]; got != "operator break" {
		t.Errorf("pause reason = %q", got)
	}
	if tctx.CountStepStatus(task.StepCompleted) != 1 {
		t.Errorf("completed steps = %d, want 1", tctx.CountStepStatus(task.StepCompleted))
	}
	if tctx.CountStepStatus(task.StepPending) != 2 {
		t.Errorf("pending steps = %d, want 2", tctx.CountStepStatus(task.StepPending))
	}

	if err := eng.ResumeTask(context.Background(), tctx); err != nil {
		t.Fatalf("ResumeTask() error = %v", err)
	}
	if tctx.Paused() {
		t.Error("pause flag survived resume")
	}
	if tctx.Status != task.StatusCompleted {
		t.Errorf("resumed task status = %s, want completed", tctx.Status)
	}
	if tctx.CountStepStatus(task.StepCompleted) != 3 {
		t.Errorf("completed steps = %d, want 3", tctx.CountStepStatus(task.StepCompleted))
	}
}

func TestExecuteTask_ContextCancellation(t *testing.T) {
	store := session.NewMemoryStore()
	eng := New(store, &fakeProvider{}, &fakeRunner{}, nil, Options{AutoSave: true})

	tctx := newTestContext(t, store,
		cmdStep("first", "echo one"),
		cmdStep("second", "echo two"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := eng.ExecuteTask(ctx, tctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ExecuteTask() error = %v, want context.Canceled", err)
	}
	if tctx.Status != task.StatusCancelled {
		t.Errorf("task status = %s, want cancelled", tctx.Status)
	}
	for i := range tctx.Steps {
		if tctx.Steps[i].Status != task.StepSkipped {
			t.Errorf("step %d status = %s, want skipped", i, tctx.Steps[i].Status)
		}
	}
}

func TestExecuteTask_PanicIsRecorded(t *testing.T) {
	store := session.NewMemoryStore()
	prov := &fakeProvider{executePanic: true}
	eng := New(store, prov, &fakeRunner{}, nil, Options{AutoSave: true})

	instruction := task.NewStep("summarize", "summarize the log output", "", nil)
	tctx := newTestContext(t, store, instruction)

	err := eng.ExecuteTask(context.Background(), tctx)
	if err == nil {
		t.Fatal("ExecuteTask() returned nil after panic")
	}
	if tctx.Status != task.StatusFailed {
		t.Errorf("task status = %s, want failed", tctx.Status)
	}
	if !strings.Contains(tctx.Metadata[task.MetaError], "panic") {
		t.Errorf("metadata error = %q, want panic diagnostic", tctx.Metadata[task.MetaError])
	}
}

func TestExecuteTask_RejectsTerminalTask(t *testing.T) {
	store := session.NewMemoryStore()
	eng := New(store, &fakeProvider{}, &fakeRunner{}, nil, Options{})

	tctx := newTestContext(t, store, cmdStep("noop", "true"))
	tctx.Status = task.StatusCompleted

	if err := eng.ExecuteTask(context.Background(), tctx); err == nil {
		t.Error("ExecuteTask() accepted a completed task")
	}
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancelTask_SkipsRemainingSteps(t *testing.T) {
	store := session.NewMemoryStore()
	eng := New(store, &fakeProvider{}, &fakeRunner{}, nil, Options{AutoSave: true})

	done := cmdStep("done already", "echo done")
	p1 := cmdStep("pending one", "echo one")
	p2 := cmdStep("pending two", "echo two")
	tctx := newTestContext(t, store, done, p1, p2)
	tctx.Steps[0].Status = task.StepCompleted
	tctx.Status = task.StatusInProgress

	eng.CancelTask(tctx)

	if tctx.Status != task.StatusCancelled {
		t.Errorf("task status = %s, want cancelled", tctx.Status)
	}
	if tctx.Steps[0].Status != task.StepCompleted {
		t.Errorf("completed step status = %s, want completed", tctx.Steps[0].Status)
	}
	if tctx.Steps[1].Status != task.StepSkipped || tctx.Steps[2].Status != task.StepSkipped {
		t.Errorf("pending steps = %s, %s, want skipped, skipped",
			tctx.Steps[1].Status, tctx.Steps[2].Status)
	}

	loaded, err := store.Load(tctx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status != task.StatusCancelled {
		t.Errorf("persisted status = %s, want cancelled", loaded.Status)
	}
}

// =============================================================================
// SINGLE-STEP MODE
// =============================================================================

func TestExecuteNextStep_OneAtATime(t *testing.T) {
	store := session.NewMemoryStore()
	runner := &fakeRunner{}
	eng := New(store, &fakeProvider{}, runner, nil, Options{AutoSave: true})

	tctx := newTestContext(t, store,
		cmdStep("first", "echo one"),
		cmdStep("second", "echo two"),
	)

	ctx := context.Background()

	step, err := eng.ExecuteNextStep(ctx, tctx)
	if err != nil {
		t.Fatalf("ExecuteNextStep() error = %v", err)
	}
	if step == nil || step.Name != "first" {
		t.Fatalf("ExecuteNextStep() step = %+v, want first", step)
	}
	if tctx.Status != task.StatusInProgress {
		t.Errorf("task status = %s, want in_progress", tctx.Status)
	}
	if tctx.Steps[0].Status != task.StepCompleted || tctx.Steps[1].Status != task.StepPending {
		t.Errorf("after one step: %s, %s", tctx.Steps[0].Status, tctx.Steps[1].Status)
	}

	step, err = eng.ExecuteNextStep(ctx, tctx)
	if err != nil {
		t.Fatalf("ExecuteNextStep() error = %v", err)
	}
	if step == nil || step.Name != "second" {
		t.Fatalf("ExecuteNextStep() step = %+v, want second", step)
	}
	if tctx.Steps[1].Status != task.StepCompleted {
		t.Errorf("second step status = %s, want completed", tctx.Steps[1].Status)
	}

	// nothing left: nil step, no new executions
	calls := len(runner.calls)
	step, err = eng.ExecuteNextStep(ctx, tctx)
	if err != nil {
		t.Fatalf("ExecuteNextStep() error = %v", err)
	}
	if step != nil {
		t.Errorf("idle ExecuteNextStep() step = %+v, want nil", step)
	}
	if len(runner.calls) != calls {
		t.Errorf("idle ExecuteNextStep ran a command: %v", runner.calls[calls:])
	}

	eng.FinalizeTask(tctx)
	if tctx.Status != task.StatusCompleted {
		t.Errorf("finalized status = %s, want completed", tctx.Status)
	}
	if tctx.CurrentStepIndex != 2 {
		t.Errorf("cursor = %d, want 2", tctx.CurrentStepIndex)
	}
}

// =============================================================================
// STEP OUTCOMES
// =============================================================================

func TestExecuteStep_InstructionSuccess(t *testing.T) {
	store := session.NewMemoryStore()
	prov := &fakeProvider{executeText: "rotated the logs\n" + provider.MarkerSuccess}
	eng := New(store, prov, &fakeRunner{}, nil, Options{AutoSave: true})

	step := task.NewStep("rotate logs", "rotate the service logs", "", nil)
	tctx := newTestContext(t, store, step)

	if err := eng.ExecuteStep(context.Background(), tctx, &tctx.Steps[0]); err != nil {
		t.Fatalf("ExecuteStep() error = %v", err)
	}
	if tctx.Steps[0].Status != task.StepCompleted {
		t.Errorf("step status = %s, want completed", tctx.Steps[0].Status)
	}
	if tctx.Steps[0].Result != prov.executeText {
		t.Errorf("result = %q, want provider text", tctx.Steps[0].Result)
	}
	if prov.executeCalls != 1 {
		t.Errorf("provider Execute calls = %d, want 1", prov.executeCalls)
	}
}

func TestExecuteStep_InstructionFailureMarker(t *testing.T) {
	store := session.NewMemoryStore()
	prov := &fakeProvider{executeText: provider.MarkerFailure + ": disk is full"}
	eng := New(store, prov, &fakeRunner{}, nil, Options{AutoSave: true})

	step := task.NewStep("clean tmp", "remove old temp files", "", nil)
	tctx := newTestContext(t, store, step)

	if err := eng.ExecuteStep(context.Background(), tctx, &tctx.Steps[0]); err != nil {
		t.Fatalf("ExecuteStep() error = %v", err)
	}
	if tctx.Steps[0].Status != task.StepFailed {
		t.Errorf("step status = %s, want failed", tctx.Steps[0].Status)
	}
	if !strings.Contains(tctx.Steps[0].Error, "disk is full") {
		t.Errorf("step error = %q", tctx.Steps[0].Error)
	}
}

func TestExecuteStep_InstructionWithoutMarkerFails(t *testing.T) {
	store := session.NewMemoryStore()
	prov := &fakeProvider{executeText: "sure, here is a poem about disks"}
	eng := New(store, prov, &fakeRunner{}, nil, Options{AutoSave: true})

	step := task.NewStep("tidy up", "tidy the workspace", "", nil)
	tctx := newTestContext(t, store, step)

	if err := eng.ExecuteStep(context.Background(), tctx, &tctx.Steps[0]); err != nil {
		t.Fatalf("ExecuteStep() error = %v", err)
	}
	if tctx.Steps[0].Status != task.StepFailed {
		t.Errorf("step status = %s, want failed", tctx.Steps[0].Status)
	}
	if tctx.Steps[0].Error != "no actionable command returned" {
		t.Errorf("step error = %q", tctx.Steps[0].Error)
	}
}

func TestExecuteStep_ProviderErrorGetsRecoveryAdvice(t *testing.T) {
	store := session.NewMemoryStore()
	prov := &fakeProvider{
		executeErr: errors.New("connection reset"),
		adviceText: "check that the ollama service is running",
	}
	eng := New(store, prov, &fakeRunner{}, nil, Options{AutoSave: true})

	step := task.NewStep("ask model", "describe the deployment", "", nil)
	tctx := newTestContext(t, store, step)

	if err := eng.ExecuteStep(context.Background(), tctx, &tctx.Steps[0]); err != nil {
		t.Fatalf("ExecuteStep() error = %v", err)
	}

	s := &tctx.Steps[0]
	if s.Status != task.StepFailed {
		t.Errorf("step status = %s, want failed", s.Status)
	}
	if !strings.Contains(s.Error, "connection reset") {
		t.Errorf("step error = %q", s.Error)
	}
	if !strings.Contains(s.Result, "recovery advice: check that the ollama service is running") {
		t.Errorf("step result = %q, want recovery advice", s.Result)
	}
	if prov.adviceCalls != 1 {
		t.Errorf("HandleError calls = %d, want 1", prov.adviceCalls)
	}
}

func TestExecuteStep_BlockedCommandFailsWithAdvice(t *testing.T) {
	store := session.NewMemoryStore()
	prov := &fakeProvider{adviceText: "use a targeted rm instead"}
	runner := &fakeRunner{
		errs: map[string]error{
			"rm -rf /": &shell.SecurityError{Command: "rm -rf /", Reason: "blocked operation: rm -rf /"},
		},
	}
	eng := New(store, prov, runner, nil, Options{AutoSave: true})

	step := cmdStep("wipe", "rm -rf /")
	tctx := newTestContext(t, store, step)

	if err := eng.ExecuteStep(context.Background(), tctx, &tctx.Steps[0]); err != nil {
		t.Fatalf("ExecuteStep() error = %v", err)
	}
	s := &tctx.Steps[0]
	if s.Status != task.StepFailed {
		t.Errorf("step status = %s, want failed", s.Status)
	}
	if !strings.Contains(s.Error, "command did not run") {
		t.Errorf("step error = %q", s.Error)
	}
	if prov.adviceCalls != 1 {
		t.Errorf("HandleError calls = %d, want 1", prov.adviceCalls)
	}
}

func TestExecuteStep_TimeoutFails(t *testing.T) {
	store := session.NewMemoryStore()
	runner := &fakeRunner{
		results: map[string]*shell.Result{
			"sleep 9999": {TimedOut: true, ExitCode: -1, Duration: 2 * time.Second},
		},
	}
	eng := New(store, &fakeProvider{}, runner, nil, Options{AutoSave: true})

	tctx := newTestContext(t, store, cmdStep("wait forever", "sleep 9999"))

	if err := eng.ExecuteStep(context.Background(), tctx, &tctx.Steps[0]); err != nil {
		t.Fatalf("ExecuteStep() error = %v", err)
	}
	if tctx.Steps[0].Status != task.StepFailed {
		t.Errorf("step status = %s, want failed", tctx.Steps[0].Status)
	}
	if !strings.Contains(tctx.Steps[0].Error, "timed out") {
		t.Errorf("step error = %q, want timeout diagnostic", tctx.Steps[0].Error)
	}
}

func TestExecuteStep_TruncatesLongStderr(t *testing.T) {
	store := session.NewMemoryStore()
	long := strings.Repeat("e", 5000)
	runner := &fakeRunner{
		results: map[string]*shell.Result{
			"make": {ExitCode: 2, Stderr: long, Output: long},
		},
	}
	eng := New(store, &fakeProvider{}, runner, nil, Options{AutoSave: true})

	tctx := newTestContext(t, store, cmdStep("build", "make"))

	if err := eng.ExecuteStep(context.Background(), tctx, &tctx.Steps[0]); err != nil {
		t.Fatalf("ExecuteStep() error = %v", err)
	}
	if got := len([]rune(tctx.Steps[0].Error)); got != maxErrorRunes {
		t.Errorf("error length = %d runes, want %d", got, maxErrorRunes)
	}
}

// =============================================================================
// FAILURE ESCALATION
// =============================================================================

func TestHandleStepFailure_ReopensWithinBudget(t *testing.T) {
	store := session.NewMemoryStore()
	eng := New(store, &fakeProvider{}, &fakeRunner{}, nil, Options{MaxRetries: 3, AutoSave: true})

	step := cmdStep("flaky", "curl example.com")
	tctx := newTestContext(t, store, step)
	s := &tctx.Steps[0]
	s.Status = task.StepFailed
	s.Error = "transient"

	if !eng.HandleStepFailure(tctx, s) {
		t.Fatal("HandleStepFailure() = false, want true")
	}
	if s.Status != task.StepPending {
		t.Errorf("step status = %s, want pending", s.Status)
	}
	if s.Error != "" || s.Result != "" {
		t.Errorf("reopened step kept outcome: error=%q result=%q", s.Error, s.Result)
	}
	if got := tctx.RetryCount(s.ID); got != 1 {
		t.Errorf("retry count = %d, want 1", got)
	}
}

func TestHandleStepFailure_ExhaustedNonCriticalSkips(t *testing.T) {
	store := session.NewMemoryStore()
	eng := New(store, &fakeProvider{}, &fakeRunner{}, nil, Options{MaxRetries: 2, AutoSave: true})

	step := cmdStep("optional cleanup", "rm /tmp/scratch")
	tctx := newTestContext(t, store, step)
	s := &tctx.Steps[0]
	s.Status = task.StepFailed
	s.Error = "still failing"
	tctx.Metadata[task.RetryKey(s.ID)] = "2"

	if !eng.HandleStepFailure(tctx, s) {
		t.Fatal("HandleStepFailure() = false, want true")
	}
	if s.Status != task.StepSkipped {
		t.Errorf("step status = %s, want skipped", s.Status)
	}
	if !strings.Contains(s.Result, "skipped after") {
		t.Errorf("step result = %q", s.Result)
	}
	if s.Error != "still failing" {
		t.Errorf("skip cleared the failure detail: %q", s.Error)
	}
}

func TestHandleStepFailure_ExhaustedCriticalAborts(t *testing.T) {
	store := session.NewMemoryStore()
	eng := New(store, &fakeProvider{}, &fakeRunner{}, nil, Options{MaxRetries: 1, AutoSave: true})

	for _, name := range []string{"Critical: flash firmware", "关键步骤"} {
		step := cmdStep(name, "flash.sh")
		tctx := newTestContext(t, store, step)
		s := &tctx.Steps[0]
		s.Status = task.StepFailed
		tctx.Metadata[task.RetryKey(s.ID)] = "1"

		if eng.HandleStepFailure(tctx, s) {
			t.Errorf("%q: HandleStepFailure() = true, want false", name)
		}
		if s.Status != task.StepFailed {
			t.Errorf("%q: step status = %s, want failed", name, s.Status)
		}
	}
}

func TestRetryStep_ReopensRegardlessOfBudget(t *testing.T) {
	store := session.NewMemoryStore()
	eng := New(store, &fakeProvider{}, &fakeRunner{}, nil, Options{MaxRetries: 1, AutoSave: true})

	tctx := newTestContext(t, store, cmdStep("deploy", "./deploy.sh"))
	s := &tctx.Steps[0]
	s.Status = task.StepFailed
	s.Error = "exit code 1"
	tctx.Metadata[task.RetryKey(s.ID)] = "5"

	eng.RetryStep(tctx, s)
	if s.Status != task.StepPending {
		t.Errorf("step status = %s, want pending", s.Status)
	}
	if s.Error != "" {
		t.Errorf("step error = %q, want cleared", s.Error)
	}
	if got := tctx.RetryCount(s.ID); got != 6 {
		t.Errorf("retry count = %d, want 6", got)
	}

	// Only failed steps can be retried.
	done := &tctx.Steps[0]
	done.Status = task.StepCompleted
	eng.RetryStep(tctx, done)
	if done.Status != task.StepCompleted {
		t.Errorf("completed step was reopened: %s", done.Status)
	}
}

func TestSkipStep_MarksFailedStepSkipped(t *testing.T) {
	store := session.NewMemoryStore()
	eng := New(store, &fakeProvider{}, &fakeRunner{}, nil, Options{AutoSave: true})

	tctx := newTestContext(t, store, cmdStep("migrate", "migrate.sh"))
	s := &tctx.Steps[0]
	s.Status = task.StepFailed
	s.Error = "connection refused"

	eng.SkipStep(tctx, s)
	if s.Status != task.StepSkipped {
		t.Errorf("step status = %s, want skipped", s.Status)
	}
	if s.Result != "skipped by operator" {
		t.Errorf("step result = %q", s.Result)
	}

	// Pending steps are left alone.
	pending := task.NewStep("later", "", "later.sh", nil)
	tctx.Steps = append(tctx.Steps, pending)
	eng.SkipStep(tctx, &tctx.Steps[1])
	if tctx.Steps[1].Status != task.StepPending {
		t.Errorf("pending step status = %s, want pending", tctx.Steps[1].Status)
	}
}

// =============================================================================
// DECOMPOSITION
// =============================================================================

func TestDecomposeTask_NormalizesProposals(t *testing.T) {
	store := session.NewMemoryStore()
	prov := &fakeProvider{
		proposals: []provider.ProposedStep{
			{Description: "fetch the sources", Command: "git clone repo"},
			{Name: "Build", Description: "compile everything", Command: "make", Dependencies: []string{"1"}},
			{Name: "Test", Description: "run the suite", Command: "make test", Dependencies: []string{"Build", "3"}},
		},
	}
	eng := New(store, prov, &fakeRunner{}, nil, Options{AutoSave: true})

	tctx, err := store.Create("build and test the repo")
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.DecomposeTask(context.Background(), tctx); err != nil {
		t.Fatalf("DecomposeTask() error = %v", err)
	}

	if len(tctx.Steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(tctx.Steps))
	}
	if tctx.Steps[0].Name != "step 1" {
		t.Errorf("unnamed step got name %q, want 'step 1'", tctx.Steps[0].Name)
	}
	for i := range tctx.Steps {
		if tctx.Steps[i].ID == "" {
			t.Errorf("step %d has empty id", i)
		}
		if tctx.Steps[i].Status != task.StepPending {
			t.Errorf("step %d status = %s, want pending", i, tctx.Steps[i].Status)
		}
	}

	// positional reference "1" resolves to the first step's id
	if deps := tctx.Steps[1].Dependencies; len(deps) != 1 || deps[0] != tctx.Steps[0].ID {
		t.Errorf("build deps = %v, want [%s]", deps, tctx.Steps[0].ID)
	}
	// name reference resolves; self reference "3" is dropped
	if deps := tctx.Steps[2].Dependencies; len(deps) != 1 || deps[0] != tctx.Steps[1].ID {
		t.Errorf("test deps = %v, want [%s]", deps, tctx.Steps[1].ID)
	}
}

func TestDecomposeTask_KeepsUnresolvableReference(t *testing.T) {
	store := session.NewMemoryStore()
	prov := &fakeProvider{
		proposals: []provider.ProposedStep{
			{Description: "deploy", Command: "./deploy.sh", Dependencies: []string{"provision servers"}},
		},
	}
	eng := New(store, prov, &fakeRunner{}, nil, Options{})

	tctx, err := store.Create("deploy")
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.DecomposeTask(context.Background(), tctx); err != nil {
		t.Fatalf("DecomposeTask() error = %v", err)
	}
	if deps := tctx.Steps[0].Dependencies; len(deps) != 1 || deps[0] != "provision servers" {
		t.Errorf("deps = %v, want the unresolved reference kept verbatim", deps)
	}
	if eng.CanExecuteStep(tctx, &tctx.Steps[0]) {
		t.Error("step with unresolved dependency reported executable")
	}
}

func TestDecomposeTask_FallbackOnProviderError(t *testing.T) {
	store := session.NewMemoryStore()
	prov := &fakeProvider{decomposeErr: errors.New("model not loaded")}
	eng := New(store, prov, &fakeRunner{}, nil, Options{})

	tctx, err := store.Create("echo hello world")
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.DecomposeTask(context.Background(), tctx); err != nil {
		t.Fatalf("DecomposeTask() error = %v", err)
	}

	if len(tctx.Steps) != 1 {
		t.Fatalf("steps = %d, want 1 fallback step", len(tctx.Steps))
	}
	if tctx.Steps[0].Command != "echo hello world" {
		t.Errorf("fallback command = %q, want the raw prompt", tctx.Steps[0].Command)
	}
	if !strings.Contains(tctx.Steps[0].Name, "fallback") {
		t.Errorf("fallback step name = %q", tctx.Steps[0].Name)
	}
}

// =============================================================================
// PROGRESS
// =============================================================================

func TestProgress_CountsAndPercent(t *testing.T) {
	store := session.NewMemoryStore()
	eng := New(store, &fakeProvider{}, &fakeRunner{}, nil, Options{})

	tctx := newTestContext(t, store,
		cmdStep("a", "echo a"),
		cmdStep("b", "echo b"),
		cmdStep("c", "echo c"),
		cmdStep("d", "echo d"),
	)
	tctx.Steps[0].Status = task.StepCompleted
	tctx.Steps[1].Status = task.StepCompleted
	tctx.Steps[2].Status = task.StepFailed
	tctx.CurrentStepIndex = 2

	p := eng.Progress(tctx)
	if p.Total != 4 || p.Completed != 2 || p.Failed != 1 || p.Pending != 1 {
		t.Errorf("progress counts = %+v", p)
	}
	if p.Percent != 50 {
		t.Errorf("percent = %v, want 50", p.Percent)
	}
	if p.Cursor != 2 {
		t.Errorf("cursor = %d, want 2", p.Cursor)
	}
	if p.String() != "2/4 steps (50%)" {
		t.Errorf("String() = %q", p.String())
	}
	if p.CreatedAt == "" || p.UpdatedAt == "" {
		t.Error("timestamps not formatted")
	}
}

func TestProgress_EmptyTask(t *testing.T) {
	store := session.NewMemoryStore()
	eng := New(store, &fakeProvider{}, &fakeRunner{}, nil, Options{})

	tctx, err := store.Create("nothing yet")
	if err != nil {
		t.Fatal(err)
	}
	p := eng.Progress(tctx)
	if p.Percent != 0 {
		t.Errorf("percent = %v, want 0", p.Percent)
	}
	if p.Total != 0 {
		t.Errorf("total = %d, want 0", p.Total)
	}
}
