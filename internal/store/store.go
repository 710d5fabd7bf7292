// Package store provides crash-safe token persistence using JSON files.
//
// Each API key's token is stored as a separate file: token_<hex clientID>.json.
// Writes use atomic file replacement (write to .tmp, then rename) to prevent
// corruption from partial writes or crashes mid-save. The exchange client
// calls SaveToken after every successful public/auth exchange and LoadToken
// before its first exchange, so a restarted process reuses a token that is
// still valid instead of spending an auth request.
package store

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"deribit-http/pkg/types"
)

// Store persists tokens to JSON files in a designated directory.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	dir string     // directory containing token_*.json files
	mu  sync.Mutex // serializes all file operations
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// SaveToken atomically persists the token issued to clientID.
func (s *Store) SaveToken(clientID string, tok types.StoredToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	path := s.path(clientID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadToken restores the token for clientID.
// Returns nil, nil if no token was saved.
func (s *Store) LoadToken(clientID string) (*types.StoredToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(clientID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read token: %w", err)
	}

	var tok types.StoredToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("unmarshal token: %w", err)
	}
	return &tok, nil
}

// DeleteToken removes the saved token for clientID, if any.
func (s *Store) DeleteToken(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(clientID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

func (s *Store) path(clientID string) string {
	return filepath.Join(s.dir, "token_"+fileKey(clientID)+".json")
}

// fileKey maps each client id to a distinct name that cannot leave the
// store directory.
func fileKey(id string) string {
	return hex.EncodeToString([]byte(id))
}
