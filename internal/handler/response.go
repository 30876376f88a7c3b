package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	gojson "github.com/goccy/go-json"

	"github.com/hitoshi/codetutor/internal/middleware"
	"github.com/hitoshi/codetutor/internal/model"
)

// errorWriter はサービス層のエラーをHTTPレスポンスに変換する。
// すべてのハンドラーはこの変換を通してエラーを返す。
type errorWriter struct {
	logger *slog.Logger
	// hideDetails が真の場合、検証エラーのメッセージを一般的な文言に置き換え、フィールド単位の違反は返さない。
	hideDetails bool
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = gojson.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディをdstにデコードする。
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return model.NewInvalidBodyError()
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errPayloadTooLarge
		}
		return model.NewInvalidBodyError()
	}
	if err := gojson.Unmarshal(data, dst); err != nil {
		return model.NewInvalidBodyError()
	}
	return nil
}

var errPayloadTooLarge = &model.APIError{
	Code:     "PAYLOAD_TOO_LARGE",
	Message:  "リクエストボディが大きすぎます。",
	Category: "validation",
	Action:   "送信するデータを小さくしてください。",
}

// writeError はエラーの種類に応じたステータスコードで統一エラーフォーマットを書き込む。
func (e errorWriter) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *model.ValidationError
		duplicateErr  *model.DuplicateKeyError
		apiErr        *model.APIError
	)

	switch {
	case errors.As(err, &validationErr):
		body := middleware.ErrorResponseBody{
			Code:       model.ErrCodeValidation,
			Message:    validationErr.Error(),
			Category:   "validation",
			Action:     "入力内容を確認してください。",
			Violations: validationErr.Violations,
		}
		if e.hideDetails {
			body.Message = "入力内容に誤りがあります。"
			body.Violations = nil
		}
		middleware.WriteErrorBody(w, http.StatusBadRequest, body)

	case errors.As(err, &duplicateErr):
		middleware.WriteErrorResponse(w, http.StatusConflict, &model.APIError{
			Code:     model.ErrCodeDuplicateKey,
			Message:  duplicateErr.Error(),
			Category: "validation",
			Action:   "別の値を指定してください。",
		})

	case errors.As(err, &apiErr):
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)

	case errors.Is(err, model.ErrNotFound):
		middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     model.ErrCodeNotFound,
			Message:  "リソースが見つかりません。",
			Category: "system",
			Action:   "URLを確認してください。",
		})

	case errors.Is(err, model.ErrForbidden):
		middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())

	case errors.Is(err, model.ErrUnauthorized):
		middleware.WriteUnauthorized(w)

	default:
		// 内部エラーの詳細はログのみに記録する
		e.logger.Error("internal server error",
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
	}
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation, model.ErrCodeInvalidID, model.ErrCodeInvalidBody, model.ErrCodeStudentNotFound:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeNotFound, model.ErrCodeCourseNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeDuplicateKey:
		return http.StatusConflict
	case "PAYLOAD_TOO_LARGE":
		return http.StatusRequestEntityTooLarge
	case model.ErrCodeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
