package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"snowflake-loader/internal/loaderr"
	"snowflake-loader/internal/logging"
)

const (
	SuccessBody = "File uploaded to Snowflake successfully."
	ErrorPrefix = "Error uploading file to Snowflake: "
)

// Response is the function's result document.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// Handle is the Lambda entry point. The event is not inspected, so any trigger
// (EventBridge schedule, manual invoke) works.
//
// Every failure, including a panic, is reported as a 500 Response with a nil
// error: the result document carries the outcome.
func (l *Loader) Handle(ctx context.Context, _ json.RawMessage) (resp Response, _ error) {
	ctx = logging.WithRunID(ctx, uuid.NewString())
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "load panicked", "panic", r)
			resp = failure(fmt.Errorf("panic: %v", r))
		}
	}()

	sum, err := l.Run(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "load failed",
			"kind", loaderr.KindOf(err).String(),
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return failure(err), nil
	}

	slog.InfoContext(ctx, "load succeeded",
		"table", sum.Table,
		"bytes", sum.Bytes,
		"rows_loaded", sum.RowsLoaded,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return Response{StatusCode: http.StatusOK, Body: SuccessBody}, nil
}

func failure(err error) Response {
	return Response{StatusCode: http.StatusInternalServerError, Body: ErrorPrefix + err.Error()}
}
