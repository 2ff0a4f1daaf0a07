package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hitoshi/formcoach/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func assertAPIErrorCode(t *testing.T, err error, want string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T (%v), want *model.APIError", err, err)
	}
	if apiErr.Code != want {
		t.Errorf("Code = %q, want %q", apiErr.Code, want)
	}
}

func TestParseExerciseType(t *testing.T) {
	tests := []struct {
		in      string
		want    ExerciseType
		wantErr bool
	}{
		{"squat", ExerciseSquat, false},
		{"Deadlift", ExerciseDeadlift, false},
		{" squat ", ExerciseSquat, false},
		{"bench", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseExerciseType(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseExerciseType(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseExerciseType(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestClient_Analyze_Success(t *testing.T) {
	image := []byte{0xff, 0xd8, 0xff, 0xe0}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("HTTPメソッド = %s, want POST", r.Method)
		}
		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil || !bytes.Equal(decoded, image) {
			t.Errorf("image = %q, want base64 of the input", req.Image)
		}
		if req.ExerciseType != ExerciseSquat {
			t.Errorf("exerciseType = %q, want squat", req.ExerciseType)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("analysis request should not carry an Authorization header")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"score": 87.5, "feedback": "膝がつま先より前に出ています"}`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := NewClient(server.Client(), newTestLogger(&buf), server.URL)

	got, err := c.Analyze(context.Background(), image, ExerciseSquat)
	if err != nil {
		t.Fatalf("Analyze がエラーを返した: %v", err)
	}
	if got.Score != 87.5 {
		t.Errorf("Score = %v, want 87.5", got.Score)
	}
	if got.Feedback != "膝がつま先より前に出ています" {
		t.Errorf("Feedback = %q", got.Feedback)
	}
}

func TestClient_Analyze_ServerError(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantMessage string
	}{
		{"with message", `{"error": "No pose detected"}`, "No pose detected"},
		{"without body", ``, model.NewAnalysisFailedError("").Message},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			var buf bytes.Buffer
			c := NewClient(server.Client(), newTestLogger(&buf), server.URL)

			_, err := c.Analyze(context.Background(), []byte("img"), ExerciseDeadlift)
			assertAPIErrorCode(t, err, model.ErrCodeAnalysisFailed)

			var apiErr *model.APIError
			errors.As(err, &apiErr)
			if apiErr.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMessage)
			}
		})
	}
}

func TestClient_Analyze_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	var buf bytes.Buffer
	c := NewClient(http.DefaultClient, newTestLogger(&buf), endpoint)

	_, err := c.Analyze(context.Background(), []byte("img"), ExerciseSquat)
	assertAPIErrorCode(t, err, model.ErrCodeNetworkFailure)
}

func TestClient_Analyze_RejectsInvalidInput(t *testing.T) {
	var buf bytes.Buffer
	c := NewClient(http.DefaultClient, newTestLogger(&buf), "http://127.0.0.1:0")

	_, err := c.Analyze(context.Background(), []byte("img"), ExerciseType("bench"))
	assertAPIErrorCode(t, err, model.ErrCodeInvalidExercise)

	_, err = c.Analyze(context.Background(), nil, ExerciseSquat)
	assertAPIErrorCode(t, err, model.ErrCodeImageUnreadable)
}

func TestClient_AnalyzeFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"score": 60, "feedback": "ok"}`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := NewClient(server.Client(), newTestLogger(&buf), server.URL)

	path := filepath.Join(t.TempDir(), "pose.jpg")
	if err := os.WriteFile(path, []byte("jpeg-bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := c.AnalyzeFile(context.Background(), path, ExerciseSquat)
	if err != nil {
		t.Fatalf("AnalyzeFile がエラーを返した: %v", err)
	}
	if got.Score != 60 {
		t.Errorf("Score = %v, want 60", got.Score)
	}

	_, err = c.AnalyzeFile(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"), ExerciseSquat)
	assertAPIErrorCode(t, err, model.ErrCodeImageUnreadable)
}
