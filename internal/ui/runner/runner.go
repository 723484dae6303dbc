// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package runner provides the interactive terminal UI for a task run:
// plan confirmation, a live step list with progress, pause and resume,
// and an escalation prompt when a step fails.
package runner

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/stepflow/internal/engine"
	"github.com/jeranaias/stepflow/internal/render"
	"github.com/jeranaias/stepflow/internal/task"
	"github.com/jeranaias/stepflow/internal/ui/styles"
)

// =============================================================================
// PHASES
// =============================================================================

// phase tracks which screen the run is on.
type phase int

const (
	phasePlanning phase = iota // waiting for decomposition
	phaseConfirm               // plan shown, waiting for y/n
	phaseRunning               // stepping through the plan
	phaseEscalate              // a step failed, waiting for retry/skip/abort
	phasePaused                // paused between steps
	phaseDone                  // terminal, final view rendered
)

// =============================================================================
// ENGINE CONTRACT
// =============================================================================

// Engine is the slice of the execution engine the runner drives. The
// runner steps the task itself so it can stop between steps for pause
// and escalation prompts.
type Engine interface {
	DecomposeTask(ctx context.Context, tctx *task.Context) error
	ExecuteNextStep(ctx context.Context, tctx *task.Context) (*task.Step, error)
	RetryStep(tctx *task.Context, step *task.Step)
	SkipStep(tctx *task.Context, step *task.Step)
	FinalizeTask(tctx *task.Context)
	PauseTask(tctx *task.Context, reason string)
	UnpauseTask(tctx *task.Context)
	CancelTask(tctx *task.Context)
}

// Options configures a run.
type Options struct {
	// SkipConfirm starts execution without showing the plan prompt.
	SkipConfirm bool
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model for an interactive run.
type Model struct {
	engine Engine
	tctx   *task.Context
	ctx    context.Context
	cancel context.CancelFunc

	theme    *styles.Theme
	renderer *render.Renderer
	spinner  spinner.Model
	keys     KeyMap
	width    int

	// snapshot is the copy of the task the views render from. It is
	// refreshed in Update whenever no step command is in flight; the
	// live context is never read while one is.
	snapshot *task.Context

	phase    phase
	inFlight bool

	// Progress reported by the engine callback.
	done, total int
	statusLine  string
	runningName string

	// Operator requests deferred until the in-flight step finishes.
	pauseRequested  bool
	cancelRequested bool

	failedStep  *task.Step
	startedAt   time.Time
	stepStarted time.Time
	err         error

	skipConfirm bool
}

func newModel(ctx context.Context, eng Engine, tctx *task.Context, theme *styles.Theme, rend *render.Renderer, opts Options) Model {
	runCtx, cancel := context.WithCancel(ctx)

	if theme == nil {
		theme = styles.NewTheme()
	}
	if rend == nil {
		rend = render.New(theme, render.DefaultWidth, false)
	}

	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}
	sp.Style = theme.Spinner

	m := Model{
		engine:      eng,
		tctx:        tctx,
		ctx:         runCtx,
		cancel:      cancel,
		theme:       theme,
		renderer:    rend,
		spinner:     sp,
		keys:        DefaultKeyMap(),
		width:       rend.Width(),
		snapshot:    tctx.Clone(),
		phase:       phasePlanning,
		total:       len(tctx.Steps),
		startedAt:   time.Now(),
		stepStarted: time.Now(),
		skipConfirm: opts.SkipConfirm,
	}

	// Resumed sessions arrive with a plan already attached.
	if len(tctx.Steps) > 0 {
		if opts.SkipConfirm {
			m.phase = phaseRunning
			m.inFlight = true
		} else {
			m.phase = phaseConfirm
		}
	}
	return m
}

// Init starts planning, or stepping when the plan is already in hand.
func (m Model) Init() tea.Cmd {
	switch m.phase {
	case phasePlanning:
		return tea.Batch(m.spinner.Tick, m.decomposeCmd())
	case phaseRunning:
		return tea.Batch(m.spinner.Tick, m.stepCmd())
	default:
		return nil
	}
}

// spinning reports whether the spinner should keep ticking.
func (m Model) spinning() bool {
	return m.phase == phasePlanning || (m.phase == phaseRunning && m.inFlight)
}

// =============================================================================
// ENTRY POINT
// =============================================================================

// Run executes the task under the interactive UI and blocks until the
// run reaches a terminal state or the operator quits. Engine progress
// callbacks are routed into the UI loop for the duration.
func Run(ctx context.Context, eng Engine, tctx *task.Context, theme *styles.Theme, rend *render.Renderer, opts Options) error {
	m := newModel(ctx, eng, tctx, theme, rend, opts)
	defer m.cancel()

	p := tea.NewProgram(m)

	if pe, ok := eng.(progressSource); ok {
		pe.SetProgressFunc(func(done, total int, status string) {
			p.Send(progressMsg{done: done, total: total, status: status})
		})
		defer pe.SetProgressFunc(nil)
	}

	final, err := p.Run()
	if err != nil {
		return err
	}
	if fm, ok := final.(Model); ok {
		return fm.err
	}
	return nil
}

// progressSource is satisfied by the real engine. Progress callbacks
// fire on the executing goroutine, so they are forwarded through
// Program.Send rather than touching the model.
type progressSource interface {
	SetProgressFunc(fn engine.ProgressFunc)
}
