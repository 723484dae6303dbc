// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine drives multi-step task execution for stepflow.
package engine

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/jeranaias/stepflow/internal/audit"
	"github.com/jeranaias/stepflow/internal/provider"
	"github.com/jeranaias/stepflow/internal/task"
)

// DecomposeTask asks the provider to split the task prompt into steps
// and installs them on the context. When the provider fails, the task
// falls back to a single step that runs the prompt verbatim as a shell
// command, so a shell-literate prompt still executes.
func (e *Engine) DecomposeTask(ctx context.Context, tctx *task.Context) error {
	if e.provider == nil {
		return fmt.Errorf("no provider configured for decomposition")
	}

	proposed, err := e.provider.DecomposeTask(ctx, tctx.Prompt)
	if err != nil || len(proposed) == 0 {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			log.Printf("decomposition failed, falling back to direct execution: %v", err)
		}
		tctx.Steps = []task.Step{task.NewStep(
			"decomposition fallback",
			"run the prompt as a single shell command",
			tctx.Prompt,
			nil,
		)}
		tctx.CurrentStepIndex = 0
		e.persist(tctx)
		e.audit.TaskEvent(tctx.ID, audit.EventTaskCreated, "planned 1 step (fallback)")
		return nil
	}

	tctx.Steps = normalizeSteps(proposed)
	tctx.CurrentStepIndex = 0
	e.persist(tctx)
	e.audit.TaskEvent(tctx.ID, audit.EventTaskCreated, fmt.Sprintf("planned %d steps", len(tctx.Steps)))
	return nil
}

// =============================================================================
// PROPOSAL NORMALIZATION
// =============================================================================

// normalizeSteps converts provider proposals into task steps with fresh
// IDs, preserving order. Models reference dependencies by 1-based
// position ("1", "2") or by step name; both resolve to the generated
// step IDs. Self-references are dropped. Unresolvable references are
// kept verbatim so the dependency gate holds the step back instead of
// running it with a missing prerequisite.
func normalizeSteps(proposed []provider.ProposedStep) []task.Step {
	steps := make([]task.Step, len(proposed))
	for i, p := range proposed {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			name = fmt.Sprintf("step %d", i+1)
		}
		steps[i] = task.NewStep(name, strings.TrimSpace(p.Description), strings.TrimSpace(p.Command), nil)
	}
	for i, p := range proposed {
		steps[i].Dependencies = resolveDependencies(p.Dependencies, i, proposed, steps)
	}
	return steps
}

// resolveDependencies maps one step's raw references to step IDs,
// dropping blanks, self-references, and duplicates.
func resolveDependencies(refs []string, self int, proposed []provider.ProposedStep, steps []task.Step) []string {
	if len(refs) == 0 {
		return nil
	}
	deps := make([]string, 0, len(refs))
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		id := resolveRef(ref, self, proposed, steps)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		deps = append(deps, id)
	}
	if len(deps) == 0 {
		return nil
	}
	return deps
}

// resolveRef maps a single reference to a step ID. It returns "" for a
// reference to the step itself and the reference verbatim when nothing
// matches.
func resolveRef(ref string, self int, proposed []provider.ProposedStep, steps []task.Step) string {
	if n, err := strconv.Atoi(ref); err == nil {
		if n >= 1 && n <= len(steps) {
			if n-1 == self {
				return ""
			}
			return steps[n-1].ID
		}
		return ref
	}

	for j := range steps {
		if strings.EqualFold(strings.TrimSpace(proposed[j].Name), ref) || strings.EqualFold(steps[j].Name, ref) {
			if j == self {
				return ""
			}
			return steps[j].ID
		}
	}
	// some models echo the whole description instead of the name
	for j := range steps {
		if strings.EqualFold(steps[j].Description, ref) {
			if j == self {
				return ""
			}
			return steps[j].ID
		}
	}
	return ref
}
