package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harun/confer/pkg/schema"
)

const (
	fileExtension  = ".jsonl"
	maxLineSize    = 16 * 1024 * 1024
	fileDirPerm    = 0700
	fileRecordPerm = 0600
)

// fileHeader is the first line of every session file
type fileHeader struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FileStore keeps one JSONL file per session: a header line carrying the
// expiry, then one message per line.
type FileStore struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
	now        func() time.Time
}

// NewFileStore creates a FileStore rooted at dir. An empty dir means
// ~/.confer/sessions.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".confer", "sessions")
	}

	if err := os.MkdirAll(dir, fileDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	log.Info().Str("dir", dir).Msg("File session store initialized")

	return &FileStore{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
		now:        time.Now,
	}, nil
}

func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+fileExtension)
}

// writeLock returns the lock serializing writes for a session
func (s *FileStore) writeLock(sessionID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, ok := s.writeLocks[sessionID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.writeLocks[sessionID] = lock
	return lock
}

func (s *FileStore) LoadHistory(_ context.Context, sessionID string) ([]schema.Message, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	header, messages, err := readSessionFile(s.path(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return []schema.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}
	if !s.now().Before(header.ExpiresAt) {
		return []schema.Message{}, nil
	}
	return messages, nil
}

// ReplaceHistory writes the transcript to a temporary file and renames it
// over the session file.
func (s *FileStore) ReplaceHistory(_ context.Context, sessionID string, messages []schema.Message, ttl time.Duration) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	lock := s.writeLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(fileHeader{SessionID: sessionID, ExpiresAt: s.now().Add(effectiveTTL(ttl)).UTC()}); err != nil {
		return fmt.Errorf("failed to encode session header: %w", err)
	}
	for i, msg := range messages {
		if err := enc.Encode(msg); err != nil {
			return fmt.Errorf("failed to encode message %d: %w", i, err)
		}
	}

	tmp, err := os.CreateTemp(s.dir, "."+sessionID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	if err := os.Chmod(tmpPath, fileRecordPerm); err != nil {
		return fmt.Errorf("failed to set session permissions: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(sessionID)); err != nil {
		return fmt.Errorf("failed to replace session: %w", err)
	}
	return nil
}

// Purge removes expired and unreadable session files
func (s *FileStore) Purge(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	now := s.now()
	purged := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return purged, ctx.Err()
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExtension) {
			continue
		}
		sessionID := strings.TrimSuffix(name, fileExtension)

		lock := s.writeLock(sessionID)
		lock.Lock()
		header, _, readErr := readSessionFile(s.path(sessionID))
		if readErr == nil && now.Before(header.ExpiresAt) {
			lock.Unlock()
			continue
		}
		if readErr != nil {
			log.Warn().Str("session_id", sessionID).Err(readErr).Msg("Removing unreadable session file")
		}
		if err := os.Remove(s.path(sessionID)); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Error().Str("session_id", sessionID).Err(err).Msg("Failed to delete session")
			lock.Unlock()
			continue
		}
		lock.Unlock()

		s.locksMu.Lock()
		delete(s.writeLocks, sessionID)
		s.locksMu.Unlock()
		purged++
	}
	return purged, nil
}

func (s *FileStore) Close() error {
	return nil
}

func readSessionFile(path string) (fileHeader, []schema.Message, error) {
	var header fileHeader

	file, err := os.Open(path)
	if err != nil {
		return header, nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return header, nil, err
		}
		return header, nil, errors.New("missing session header")
	}
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		return header, nil, fmt.Errorf("invalid session header: %w", err)
	}

	messages := []schema.Message{}
	lineNum := 1
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var msg schema.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return header, nil, fmt.Errorf("invalid message on line %d: %w", lineNum, err)
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return header, nil, err
	}
	return header, messages, nil
}
