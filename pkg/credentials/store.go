// Package credentials persists the provider API key in a .env file.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// APIKeyVar is the .env entry holding the OpenAI API key.
const APIKeyVar = "OPENAI_API_KEY"

// Store reads and writes the single provider credential.
// Use this interface for dependency injection to enable mocking in tests.
type Store interface {
	// Get returns the credential and whether one is configured.
	Get(ctx context.Context) (string, bool, error)

	// Set persists the credential, preserving other entries in the file.
	Set(ctx context.Context, value string) error

	// IsConfigured reports whether a non-empty credential is stored.
	IsConfigured(ctx context.Context) bool
}

// EnvFileStore implements Store on top of a .env file.
// The file is re-read on every call so a rotated key is picked up by the next operation.
type EnvFileStore struct {
	path string
	mu   sync.Mutex
}

// NewEnvFileStore creates a store for the given .env path.
func NewEnvFileStore(path string) *EnvFileStore {
	return &EnvFileStore{path: path}
}

var _ Store = (*EnvFileStore)(nil)

// Path returns the backing file path.
func (s *EnvFileStore) Path() string {
	return s.path
}

func (s *EnvFileStore) Get(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.read()
	if err != nil {
		return "", false, err
	}

	value := strings.TrimSpace(env[APIKeyVar])
	return value, value != "", nil
}

func (s *EnvFileStore) Set(ctx context.Context, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return errors.New("API key is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.read()
	if err != nil {
		return err
	}
	env[APIKeyVar] = value

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create credential directory: %w", err)
		}
	}

	if err := godotenv.Write(env, s.path); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}

	// godotenv.Write uses the process umask; the key must stay private.
	if err := os.Chmod(s.path, 0o600); err != nil {
		return fmt.Errorf("restrict credential file permissions: %w", err)
	}

	return nil
}

func (s *EnvFileStore) IsConfigured(ctx context.Context) bool {
	_, ok, err := s.Get(ctx)
	return err == nil && ok
}

// read loads the file, treating a missing file as empty.
func (s *EnvFileStore) read() (map[string]string, error) {
	env, err := godotenv.Read(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read credential file: %w", err)
	}
	return env, nil
}

// Mask returns a display-safe version of a key (prefix and last four characters).
func Mask(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:3] + "..." + key[len(key)-4:]
}
