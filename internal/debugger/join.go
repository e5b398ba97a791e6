package debugger

import (
	"html/template"
	"sync"
	"time"
)

// Outcome is how a step join completed.
type Outcome string

const (
	OutcomeJoined     Outcome = "joined"
	OutcomeDegraded   Outcome = "degraded"
	OutcomeSuperseded Outcome = "superseded"
)

// joinResult is delivered exactly once per join unless it is superseded.
type joinResult struct {
	gen     uint64
	step    uint64
	output  string
	source  template.HTML
	outcome Outcome
}

// join pairs the debugger output of one step with the highlighted source for
// that step. It fires once, when the second slot is filled or when the wait
// bound expires with the output slot filled.
type join struct {
	gen  uint64
	step uint64

	mu        sync.Mutex
	output    *string
	source    *template.HTML
	fallback  func() template.HTML
	done      bool
	timer     *time.Timer
	onResolve func(joinResult)
}

func newJoin(gen, step uint64, fallback func() template.HTML, onResolve func(joinResult)) *join {
	return &join{gen: gen, step: step, fallback: fallback, onResolve: onResolve}
}

// arm starts the wait bound.
func (j *join) arm(wait time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done || wait <= 0 {
		return
	}
	j.timer = time.AfterFunc(wait, j.expire)
}

func (j *join) setOutput(output string) {
	j.mu.Lock()
	j.output = &output
	res, ok := j.tryResolve()
	j.mu.Unlock()
	if ok {
		j.onResolve(res)
	}
}

func (j *join) setSource(source template.HTML) {
	j.mu.Lock()
	j.source = &source
	res, ok := j.tryResolve()
	j.mu.Unlock()
	if ok {
		j.onResolve(res)
	}
}

// tryResolve must be called with mu held.
func (j *join) tryResolve() (joinResult, bool) {
	if j.done || j.output == nil || j.source == nil {
		return joinResult{}, false
	}
	j.done = true
	if j.timer != nil {
		j.timer.Stop()
	}
	return joinResult{gen: j.gen, step: j.step, output: *j.output, source: *j.source, outcome: OutcomeJoined}, true
}

func (j *join) expire() {
	j.mu.Lock()
	if j.done || j.output == nil {
		j.mu.Unlock()
		return
	}
	j.done = true
	output := *j.output
	j.mu.Unlock()

	var source template.HTML
	if j.fallback != nil {
		source = j.fallback()
	}
	j.onResolve(joinResult{gen: j.gen, step: j.step, output: output, source: source, outcome: OutcomeDegraded})
}

// supersede stops the join and hands back its output if it never rendered.
func (j *join) supersede() (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done {
		return "", false
	}
	j.done = true
	if j.timer != nil {
		j.timer.Stop()
	}
	if j.output == nil {
		return "", false
	}
	return *j.output, true
}

func (j *join) resolved() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.done
}
