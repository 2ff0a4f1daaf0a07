package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ClientConfig はTUIクライアントの設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type ClientConfig struct {
	// Identity Provider
	IdPBaseURL string

	// Analysis
	AnalysisURL string
	Exercise    string

	// Session
	TokenFile string

	// HTTP
	HTTPTimeout time.Duration

	// Logging
	LogFile string
}

// ServerConfig は開発用IdPサーバーの設定を保持する。
type ServerConfig struct {
	// Database
	DatabaseURL string

	// Session
	SessionSecret string
	SessionMaxAge int
	TokenIssuer   string

	// Rate Limit
	RateLimitGeneral    int
	SignInMaxFailures   int
	SignInLockoutWindow time.Duration

	// Credential
	PasswordMinLength int

	// Server
	ServerPort string
}

// LoadClient は環境変数からClientConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{}

	// Required fields
	var missing []string

	cfg.IdPBaseURL = os.Getenv("IDP_BASE_URL")
	if cfg.IdPBaseURL == "" {
		missing = append(missing, "IDP_BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.AnalysisURL = getEnvString("ANALYSIS_URL", "http://localhost:5000/analyze-posture")
	cfg.Exercise = getEnvString("EXERCISE", "squat")
	cfg.TokenFile = getEnvString("TOKEN_FILE", defaultTokenFile())
	cfg.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", 10*time.Second)
	cfg.LogFile = getEnvString("LOG_FILE", "formcoach.log")

	return cfg, nil
}

// LoadServer は環境変数からServerConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func LoadServer() (*ServerConfig, error) {
	cfg := &ServerConfig{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.TokenIssuer = getEnvString("TOKEN_ISSUER", "formcoach-idp")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.SignInMaxFailures = getEnvInt("SIGNIN_MAX_FAILURES", 5)
	cfg.SignInLockoutWindow = getEnvDuration("SIGNIN_LOCKOUT_WINDOW", 15*time.Minute)
	cfg.PasswordMinLength = getEnvInt("PASSWORD_MIN_LENGTH", 6)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
}

// defaultTokenFile はユーザー設定ディレクトリ配下のトークンファイルパスを返す。
// LoadDotEnv は存在する.envファイルを環境変数に読み込む。
// 既に設定済みの環境変数は上書きしない。存在しないファイルは無視する。
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "session.toml"
	}
	return filepath.Join(home, ".config", "formcoach", "session.toml")
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
