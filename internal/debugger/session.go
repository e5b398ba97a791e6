package debugger

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/peb/internal/render"
	"github.com/GriffinCanCode/peb/internal/sandbox"
	"github.com/GriffinCanCode/peb/internal/shared/id"
	"github.com/GriffinCanCode/peb/internal/shared/proc"
)

var (
	// ErrNotRunning is returned when a command is sent without a live debugger.
	ErrNotRunning = errors.New("debugger not running")
	// ErrClosed is returned after the session was closed.
	ErrClosed = errors.New("debugger session closed")
	// ErrStartFailed means the debugger process could not be spawned.
	ErrStartFailed = errors.New("debugger start failed")
	// ErrDesync marks a step result that belongs to an earlier debugger run.
	ErrDesync = errors.New("debugger step out of sync")
)

// Defaults for Config.
const (
	DefaultHighlightTimeout = 2 * time.Second
	DefaultIdleFlush        = 300 * time.Millisecond
)

// State is the lifecycle state of a session.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateStepping
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateStepping:
		return "stepping"
	case StateClosed:
		return "closed"
	default:
		return "idle"
	}
}

//go:embed templates/debugger.html
var templateFS embed.FS

var defaultTemplate = template.Must(template.ParseFS(templateFS, "templates/debugger.html"))

// LoadTemplate parses a user-supplied step template. An empty path yields the
// built-in template.
func LoadTemplate(path string) (*template.Template, error) {
	if path == "" {
		return defaultTemplate, nil
	}
	tmpl, err := template.ParseFiles(path)
	if err != nil {
		return nil, fmt.Errorf("parse debugger template: %w", err)
	}
	return tmpl, nil
}

// PageData is passed to the step template.
type PageData struct {
	SessionID string
	Script    string
	Location  string
	Step      uint64
	Output    string
	Source    template.HTML
	Degraded  bool
}

// Config controls a debugger session.
type Config struct {
	Args             []string
	Env              map[string]string
	HighlightTimeout time.Duration
	IdleFlush        time.Duration
	Template         *template.Template
}

// Recorder observes rendered steps.
type Recorder interface {
	DebuggerStep(outcome string)
}

// DeliverFunc hands a rendered page to the frame that issued the command.
type DeliverFunc func(frameID string, page render.Page)

type process struct {
	cmd  *exec.Cmd
	ptmx *os.File
	done chan struct{}
}

func (p *process) stop() {
	if p == nil {
		return
	}
	if p.cmd.Process != nil {
		_ = proc.KillTree(p.cmd.Process.Pid)
	}
	_ = p.ptmx.Close()
	select {
	case <-p.done:
	case <-time.After(proc.WaitDelay):
	}
}

// Session drives one interactive debugger process per window. Each Start or
// Restart bumps the generation; results from older generations are dropped.
type Session struct {
	cfg         Config
	highlighter Highlighter
	deliver     DeliverFunc
	recorder    Recorder
	logger      *zap.Logger

	mu         sync.Mutex
	id         id.DebugSessionID
	state      State
	script     string
	frameID    string
	generation uint64
	step       uint64
	location   Location
	lastLine   string
	lastSource template.HTML
	pending    bytes.Buffer
	idle       *time.Timer
	current    *join
	proc       *process

	renderMu    sync.Mutex
	renderedGen uint64
	rendered    uint64
}

// NewSession creates an idle session.
func NewSession(cfg Config, highlighter Highlighter, deliver DeliverFunc, recorder Recorder, logger *zap.Logger) *Session {
	if cfg.HighlightTimeout <= 0 {
		cfg.HighlightTimeout = DefaultHighlightTimeout
	}
	if cfg.IdleFlush <= 0 {
		cfg.IdleFlush = DefaultIdleFlush
	}
	if len(cfg.Args) == 0 {
		cfg.Args = []string{"-d"}
	}
	if cfg.Template == nil {
		cfg.Template = defaultTemplate
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		cfg:         cfg,
		highlighter: highlighter,
		deliver:     deliver,
		recorder:    recorder,
		logger:      logger,
	}
}

// Start launches the debugger on script, replacing any running one. The
// initial command, when set, is written as soon as the process is up.
func (s *Session) Start(env sandbox.Snapshot, script, frameID, initial string) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	old := s.resetLocked()
	s.generation++
	gen := s.generation
	s.id = id.NewDebugSessionID()
	s.script = script
	s.frameID = frameID
	s.location = Location{File: script}
	s.state = StateStarting
	s.mu.Unlock()

	old.stop()

	args := append(append([]string{}, s.cfg.Args...), script)
	cmd := exec.Command(env.Interpreter, args...)
	cmd.Dir = filepath.Dir(script)
	extra := map[string]string{"TERM": "dumb"}
	for k, v := range s.cfg.Env {
		extra[k] = v
	}
	cmd.Env = env.Environ(extra)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 50, Cols: 200})
	if err != nil {
		s.mu.Lock()
		if s.generation == gen {
			s.state = StateIdle
		}
		s.mu.Unlock()
		s.logger.Error("Failed to start debugger", zap.String("script", script), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	p := &process{cmd: cmd, ptmx: ptmx, done: make(chan struct{})}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		go p.stop()
		return nil
	}
	s.proc = p
	sid := s.id
	s.mu.Unlock()

	go s.read(gen, p)

	s.logger.Info("Debugger started",
		zap.String("session_id", sid.String()),
		zap.String("script", script),
		zap.Int("pid", cmd.Process.Pid))

	if initial != "" {
		if _, err := fmt.Fprintf(ptmx, "%s\n", initial); err != nil {
			s.logger.Warn("Failed to send initial debugger command", zap.Error(err))
		}
	}
	return nil
}

// Restart is Start on a fresh process; the line marker begins empty.
func (s *Session) Restart(env sandbox.Snapshot, script, frameID, initial string) error {
	return s.Start(env, script, frameID, initial)
}

// Send writes one command to the debugger. frameID, when set, becomes the
// target of subsequent renders.
func (s *Session) Send(frameID, command string) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	p := s.proc
	if p == nil || (s.state != StateStarting && s.state != StateStepping) {
		s.mu.Unlock()
		return ErrNotRunning
	}
	if frameID != "" {
		s.frameID = frameID
	}
	s.mu.Unlock()

	if _, err := fmt.Fprintf(p.ptmx, "%s\n", command); err != nil {
		return fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	return nil
}

// Close kills the debugger and rejects further use.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	old := s.resetLocked()
	s.generation++
	s.state = StateClosed
	s.mu.Unlock()

	old.stop()
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastLine returns the "file:line" marker of the most recent step.
func (s *Session) LastLine() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLine
}

// Script returns the script being debugged.
func (s *Session) Script() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.script
}

// ID identifies the current debugger run.
func (s *Session) ID() id.DebugSessionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// resetLocked clears per-run state and detaches the running process.
func (s *Session) resetLocked() *process {
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
	if s.current != nil {
		s.current.supersede()
		s.current = nil
	}
	s.pending.Reset()
	s.step = 0
	s.lastLine = ""
	s.lastSource = ""
	old := s.proc
	s.proc = nil
	return old
}

func (s *Session) read(gen uint64, p *process) {
	defer close(p.done)

	buf := make([]byte, 4096)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			s.appendOutput(gen, buf[:n])
		}
		if err != nil {
			break
		}
	}
	_ = p.cmd.Wait()
	s.finish(gen)
}

func (s *Session) appendOutput(gen uint64, chunk []byte) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.pending.Write(chunk)
	if endsWithPrompt(cleanOutput(s.pending.String())) {
		launch := s.flushLocked(gen)
		s.mu.Unlock()
		launch()
		return
	}
	if s.idle != nil {
		s.idle.Stop()
	}
	s.idle = time.AfterFunc(s.cfg.IdleFlush, func() { s.flushIdle(gen) })
	s.mu.Unlock()
}

func (s *Session) flushIdle(gen uint64) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	launch := s.flushLocked(gen)
	s.mu.Unlock()
	launch()
}

func (s *Session) finish(gen uint64) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	launch := s.flushLocked(gen)
	s.proc = nil
	if s.state != StateClosed {
		s.state = StateIdle
	}
	s.mu.Unlock()
	launch()
	s.logger.Info("Debugger exited", zap.Uint64("generation", gen))
}

// flushLocked turns pending output into a step and returns the work to run
// once the lock is released.
func (s *Session) flushLocked(gen uint64) func() {
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
	output := cleanOutput(s.pending.String())
	s.pending.Reset()
	if output == "" {
		return func() {}
	}

	if s.current != nil {
		if carried, ok := s.current.supersede(); ok {
			output = carried + output
			s.record(OutcomeSuperseded)
		}
	}

	if loc, ok := lastLocation(output); ok {
		s.location = loc
	}
	loc := s.location
	marker := loc.String()

	s.step++
	j := newJoin(gen, s.step, func() template.HTML { return PlainSource(loc) }, s.resolve)
	s.current = j
	s.state = StateStepping

	cached := template.HTML("")
	if marker == s.lastLine && s.lastSource != "" {
		cached = s.lastSource
	}
	s.lastLine = marker

	return func() {
		j.arm(s.cfg.HighlightTimeout)
		j.setOutput(output)
		if cached != "" {
			j.setSource(cached)
			return
		}
		go s.highlight(gen, j, loc, marker)
	}
}

func (s *Session) highlight(gen uint64, j *join, loc Location, marker string) {
	if s.highlighter == nil {
		j.expire()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HighlightTimeout)
	defer cancel()

	src, err := s.highlighter.Highlight(ctx, loc)
	if err != nil {
		s.logger.Debug("Highlight failed", zap.String("location", marker), zap.Error(err))
		j.expire()
		return
	}

	s.mu.Lock()
	if gen == s.generation && marker == s.lastLine {
		s.lastSource = src
	}
	s.mu.Unlock()
	j.setSource(src)
}

func (s *Session) resolve(res joinResult) {
	s.mu.Lock()
	stale := res.gen != s.generation
	loc := s.location
	if l, ok := lastLocation(res.output); ok {
		loc = l
	}
	data := PageData{
		SessionID: s.id.String(),
		Script:    s.script,
		Location:  loc.String(),
		Step:      res.step,
		Output:    res.output,
		Source:    res.source,
		Degraded:  res.outcome == OutcomeDegraded,
	}
	frameID := s.frameID
	s.mu.Unlock()

	if stale {
		s.logger.Debug("Dropping debugger step",
			zap.Uint64("generation", res.gen),
			zap.Uint64("step", res.step),
			zap.Error(ErrDesync))
		return
	}

	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	if res.gen < s.renderedGen || (res.gen == s.renderedGen && res.step <= s.rendered) {
		s.logger.Debug("Dropping out-of-order debugger step", zap.Uint64("step", res.step), zap.Error(ErrDesync))
		return
	}
	s.renderedGen, s.rendered = res.gen, res.step

	var buf bytes.Buffer
	if err := s.cfg.Template.Execute(&buf, data); err != nil {
		s.logger.Error("Failed to render debugger step", zap.Error(err))
		s.deliver(frameID, render.ErrorPage(render.ErrorData{
			Title:   "Debugger error",
			Message: "The debugger step could not be rendered.",
			Detail:  err.Error(),
			Target:  data.Script,
		}))
		return
	}
	s.record(res.outcome)
	s.deliver(frameID, render.Page{Content: buf.Bytes(), ContentType: render.ContentHTML, Kind: render.KindDebuggerStep})
}

func (s *Session) record(outcome Outcome) {
	if s.recorder != nil {
		s.recorder.DebuggerStep(string(outcome))
	}
}
