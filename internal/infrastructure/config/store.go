package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// Store persists user choices back to the settings file. Every update is a
// read-modify-write of the whole file followed by an atomic rename, so keys
// it does not touch keep their values.
type Store struct {
	path   string
	format Format
	mu     sync.Mutex
}

// NewStore creates a store for the settings file at path.
func NewStore(path string) *Store {
	return &Store{path: path, format: FormatOf(path)}
}

// Path returns the settings file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the current settings.
func (s *Store) Load() (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return LoadSettings(s.path)
}

// Update applies fn to the stored settings and writes them back.
func (s *Store) Update(fn func(*Settings) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := LoadSettings(s.path)
	if err != nil {
		return err
	}
	if err := fn(settings); err != nil {
		return err
	}

	data, err := encode(s.format, settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*")
	if err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if info, err := os.Stat(s.path); err == nil {
		_ = os.Chmod(tmp.Name(), info.Mode().Perm())
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}

// AppendPath adds entry to environment.path unless it is already present.
func (s *Store) AppendPath(entry string) error {
	return s.Update(func(st *Settings) error {
		if !slices.Contains(st.Environment.Path, entry) {
			st.Environment.Path = append(st.Environment.Path, entry)
		}
		return nil
	})
}

// SetInterpreter records the interpreter binary and its library folder.
func (s *Store) SetInterpreter(path, lib string) error {
	return s.Update(func(st *Settings) error {
		st.Interpreter.Path = path
		st.Interpreter.Lib = lib
		return nil
	})
}

// SetTheme records the selected theme file name.
func (s *Store) SetTheme(name string) error {
	return s.Update(func(st *Settings) error {
		st.GUI.Theme = name
		return nil
	})
}
