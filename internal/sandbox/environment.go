package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Variables the sandbox always sets.
const (
	DocumentRoot = "DOCUMENT_ROOT"

	FileToOpen   = "FILE_TO_OPEN"
	FileToCreate = "FILE_TO_CREATE"
	FolderToOpen = "FOLDER_TO_OPEN"
)

// ErrPathInvalid marks a PATH entry that does not name an existing directory.
var ErrPathInvalid = errors.New("sandbox path entry invalid")

// PathVar is the platform's search path variable name.
func PathVar() string {
	if runtime.GOOS == "windows" {
		return "Path"
	}
	return "PATH"
}

// Options configures Build.
type Options struct {
	RootDir     string
	AllowList   []string
	PathEntries []string
	LibVar      string
	LibPath     string
	Interpreter string
	// ProcessEnv is the environment to filter, as KEY=VALUE pairs.
	// Nil means os.Environ().
	ProcessEnv []string
	Logger     *zap.Logger
}

// Environment is the live sandbox environment of a viewer instance. Spawns
// never read it directly; they take a Snapshot.
type Environment struct {
	mu          sync.RWMutex
	vars        map[string]string
	root        string
	entries     []string
	libVar      string
	interpreter string
	logger      *zap.Logger
}

// Snapshot is an immutable copy of the environment taken at spawn time.
type Snapshot struct {
	Vars        map[string]string
	Interpreter string
	RootDir     string
}

// Build creates the sandbox. Only allow-listed process variables are kept.
func Build(opts Options) *Environment {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	processEnv := opts.ProcessEnv
	if processEnv == nil {
		processEnv = os.Environ()
	}

	allowed := make(map[string]struct{}, len(opts.AllowList))
	for _, name := range opts.AllowList {
		allowed[name] = struct{}{}
	}

	vars := make(map[string]string, len(allowed)+3)
	for _, kv := range processEnv {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, keep := allowed[name]; keep {
			vars[name] = value
		}
	}

	libVar := opts.LibVar
	if libVar == "" {
		libVar = "PERLLIB"
	}

	e := &Environment{
		vars:        vars,
		root:        opts.RootDir,
		libVar:      libVar,
		interpreter: opts.Interpreter,
		logger:      logger,
	}
	e.vars[DocumentRoot] = opts.RootDir
	e.vars[libVar] = opts.LibPath

	for _, entry := range opts.PathEntries {
		if !slices.Contains(e.entries, entry) {
			e.entries = append(e.entries, entry)
		}
	}
	e.rebuildPath()

	return e
}

// AssemblePath joins entries into a search path value. Relative entries are
// resolved against root and entries that are not existing directories are
// left out; the second return lists them.
func AssemblePath(root string, entries []string) (string, []string) {
	var (
		dirs    []string
		skipped []string
	)
	for _, entry := range entries {
		dir := resolve(root, entry)
		if !isDir(dir) {
			skipped = append(skipped, entry)
			continue
		}
		dirs = append(dirs, dir)
	}
	return strings.Join(dirs, string(os.PathListSeparator)), skipped
}

// rebuildPath must be called with mu held for writing (or before publication).
func (e *Environment) rebuildPath() {
	value, skipped := AssemblePath(e.root, e.entries)
	for _, entry := range skipped {
		e.logger.Warn("Skipping sandbox path entry",
			zap.String("entry", entry),
			zap.Error(ErrPathInvalid))
	}
	e.vars[PathVar()] = value
}

// AppendPath validates entry and appends it to the search path. Entries are
// never removed and appending an existing entry is a no-op.
func (e *Environment) AppendPath(entry string) error {
	dir := resolve(e.root, entry)
	if !isDir(dir) {
		return fmt.Errorf("%w: %s", ErrPathInvalid, entry)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if slices.Contains(e.entries, entry) {
		return nil
	}
	e.entries = append(e.entries, entry)
	e.rebuildPath()

	e.logger.Info("Sandbox path extended", zap.String("entry", entry))
	return nil
}

// SetInterpreter replaces the interpreter and its library path for future spawns.
func (e *Environment) SetInterpreter(path, lib string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.interpreter = path
	e.vars[e.libVar] = lib
}

// Set stores a host-provided variable such as FILE_TO_OPEN.
func (e *Environment) Set(name, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vars[name] = value
}

// Get returns a variable.
func (e *Environment) Get(name string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.vars[name]
	return v, ok
}

// Entries returns the configured PATH entries in insertion order.
func (e *Environment) Entries() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.entries)
}

// Interpreter returns the current interpreter path.
func (e *Environment) Interpreter() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.interpreter
}

// RootDir returns the document root.
func (e *Environment) RootDir() string {
	return e.root
}

// Snapshot copies the current state for one spawn.
func (e *Environment) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	vars := make(map[string]string, len(e.vars))
	for k, v := range e.vars {
		vars[k] = v
	}
	return Snapshot{Vars: vars, Interpreter: e.interpreter, RootDir: e.root}
}

// Environ renders the snapshot as sorted KEY=VALUE pairs, merged with extra.
// Extra values win over snapshot values.
func (s Snapshot) Environ(extra map[string]string) []string {
	merged := make(map[string]string, len(s.Vars)+len(extra))
	for k, v := range s.Vars {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func resolve(root, entry string) string {
	if filepath.IsAbs(entry) {
		return filepath.Clean(entry)
	}
	return filepath.Join(root, entry)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
