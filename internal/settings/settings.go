// Package settings persists site settings as JSON files in one directory.
package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"yaw/api/internal/util"
)

var (
	ErrNotFound     = errors.New("settings not found")
	ErrInvalidInput = errors.New("invalid settings")
)

const (
	BlobLicensing = "licensing"
	BlobTheming   = "theming"

	mainFile    = "settings.json"
	generalFile = "generalsettings.json"
)

var (
	mainKeys    = []string{"font", "theme", "license"}
	generalKeys = []string{"preventUserRegistration"}
)

func defaultMain() map[string]any {
	return map[string]any{
		"font":  "Open Sans",
		"theme": "system",
		"license": map[string]any{
			"email": "",
			"key":   "",
		},
	}
}

func defaultGeneral() map[string]any {
	return map[string]any{"preventUserRegistration": false}
}

type Store struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) blobPath(name string) (string, error) {
	switch name {
	case BlobLicensing, BlobTheming:
		return filepath.Join(s.dir, name+".json"), nil
	default:
		return "", fmt.Errorf("%w: unknown blob %q", ErrInvalidInput, name)
	}
}

// ReadBlob returns the stored document verbatim.
func (s *Store) ReadBlob(name string) ([]byte, error) {
	p, err := s.blobPath(name)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return raw, nil
}

// WriteBlob stores any JSON document, pretty-printed with two spaces.
func (s *Store) WriteBlob(name string, raw []byte) error {
	p, err := s.blobPath(name)
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, bytes.TrimSpace(raw), "", "  "); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return util.WriteFileAtomic(p, out.Bytes(), 0o644)
}

// General returns the main and general settings merged into one object,
// creating both files with defaults on first use.
func (s *Store) General() (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	main, err := s.loadOrInit(mainFile, defaultMain)
	if err != nil {
		return nil, err
	}
	general, err := s.loadOrInit(generalFile, defaultGeneral)
	if err != nil {
		return nil, err
	}
	for k, v := range general {
		main[k] = v
	}
	return main, nil
}

// UpdateGeneral merges the recognised keys of update into the matching file.
// Unknown keys are ignored.
func (s *Store) UpdateGeneral(update map[string]json.RawMessage) error {
	if prevent, ok := update["preventUserRegistration"]; ok {
		var b bool
		if err := json.Unmarshal(prevent, &b); err != nil {
			return fmt.Errorf("%w: preventUserRegistration must be a boolean", ErrInvalidInput)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.merge(mainFile, defaultMain, mainKeys, update); err != nil {
		return err
	}
	return s.merge(generalFile, defaultGeneral, generalKeys, update)
}

// PreventUserRegistration reports whether self-service sign-up is closed.
func (s *Store) PreventUserRegistration() (bool, error) {
	merged, err := s.General()
	if err != nil {
		return false, err
	}
	prevent, _ := merged["preventUserRegistration"].(bool)
	return prevent, nil
}

func (s *Store) merge(file string, defaults func() map[string]any, keys []string, update map[string]json.RawMessage) error {
	changed := false
	current, err := s.loadOrInit(file, defaults)
	if err != nil {
		return err
	}
	for _, key := range keys {
		raw, ok := update[key]
		if !ok {
			continue
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidInput, key, err)
		}
		current[key] = value
		changed = true
	}
	if !changed {
		return nil
	}
	return s.save(file, current)
}

func (s *Store) loadOrInit(file string, defaults func() map[string]any) (map[string]any, error) {
	p := filepath.Join(s.dir, file)
	raw, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		value := defaults()
		if err := s.save(file, value); err != nil {
			return nil, err
		}
		return value, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	value := map[string]any{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}
	return value, nil
}

func (s *Store) save(file string, value map[string]any) error {
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", file, err)
	}
	return util.WriteFileAtomic(filepath.Join(s.dir, file), append(raw, '\n'), 0o644)
}
