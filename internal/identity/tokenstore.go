package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// StoredToken はアプリ再起動をまたいでセッションを復元するための保存データ。
type StoredToken struct {
	Token   string    `toml:"token"`
	Email   string    `toml:"email"`
	SavedAt time.Time `toml:"saved_at"`
}

// TokenStore はセッショントークンの永続化インターフェース。
type TokenStore interface {
	// Load は保存済みトークンを返す。保存されていない場合はnilを返す。
	Load() (*StoredToken, error)
	// Save はトークンを保存する。
	Save(token *StoredToken) error
	// Clear は保存済みトークンを削除する。
	Clear() error
}

// FileTokenStore はTOMLファイルにトークンを保存するTokenStore。
type FileTokenStore struct {
	path string
}

// NewFileTokenStore はFileTokenStoreを生成する。
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

// Load はトークンファイルを読み込む。ファイルが存在しない場合はnilを返す。
func (s *FileTokenStore) Load() (*StoredToken, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read token file: %w", err)
	}

	var st StoredToken
	if err := toml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	if st.Token == "" {
		return nil, nil
	}
	return &st, nil
}

// Save はトークンを一時ファイル経由でアトミックに書き込む。
func (s *FileTokenStore) Save(token *StoredToken) error {
	data, err := toml.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode token file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}

// Clear はトークンファイルを削除する。存在しない場合は何もしない。
func (s *FileTokenStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

// compile-time interface check
var _ TokenStore = (*FileTokenStore)(nil)
