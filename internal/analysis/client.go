// Package analysis は姿勢解析サービスのクライアントを提供する。
package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/hitoshi/formcoach/internal/model"
)

// maxResponseSize は解析レスポンスボディの読み取り上限。
const maxResponseSize = 1 << 20

// ExerciseType は解析対象のエクササイズ種別。
type ExerciseType string

const (
	ExerciseSquat    ExerciseType = "squat"
	ExerciseDeadlift ExerciseType = "deadlift"
)

// ParseExerciseType は文字列をExerciseTypeに変換する。大文字小文字は区別しない。
func ParseExerciseType(s string) (ExerciseType, error) {
	switch ExerciseType(strings.ToLower(strings.TrimSpace(s))) {
	case ExerciseSquat:
		return ExerciseSquat, nil
	case ExerciseDeadlift:
		return ExerciseDeadlift, nil
	default:
		return "", model.NewInvalidExerciseError(s)
	}
}

// Result は解析結果。
type Result struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

type analyzeRequest struct {
	Image        string       `json:"image"`
	ExerciseType ExerciseType `json:"exerciseType"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client は姿勢解析APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
}

// NewClient はClientを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, endpoint string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
	}
}

// AnalyzeFile は画像ファイルを読み込んで解析する。
func (c *Client) AnalyzeFile(ctx context.Context, path string, exercise ExerciseType) (*Result, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		c.logger.Warn("画像ファイルの読み込みに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, model.NewImageUnreadableError(path)
	}
	return c.Analyze(ctx, image, exercise)
}

// Analyze は画像をbase64エンコードして解析APIに送信する。
// 失敗時はサーバーのエラーメッセージを含むANALYSIS_FAILEDを返す。リトライは行わない。
func (c *Client) Analyze(ctx context.Context, image []byte, exercise ExerciseType) (*Result, error) {
	if len(image) == 0 {
		return nil, model.NewImageUnreadableError("")
	}
	if exercise != ExerciseSquat && exercise != ExerciseDeadlift {
		return nil, model.NewInvalidExerciseError(string(exercise))
	}

	body, err := json.Marshal(analyzeRequest{
		Image:        base64.StdEncoding.EncodeToString(image),
		ExerciseType: exercise,
	})
	if err != nil {
		return nil, fmt.Errorf("解析リクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("姿勢解析APIの呼び出しに失敗しました",
			slog.String("exercise", string(exercise)),
			slog.String("error", err.Error()),
		)
		return nil, model.NewNetworkFailureError()
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var er errorResponse
		_ = json.Unmarshal(data, &er)
		c.logger.Error("姿勢解析APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("exercise", string(exercise)),
			slog.String("server_error", er.Error),
		)
		return nil, model.NewAnalysisFailedError(er.Error)
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("姿勢解析APIのレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, model.NewAnalysisFailedError("")
	}

	c.logger.Info("姿勢解析が完了しました",
		slog.String("exercise", string(exercise)),
		slog.Float64("score", result.Score),
	)
	return &result, nil
}
