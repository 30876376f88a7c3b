package model

import (
	"errors"
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, course, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeDuplicateKey    = "DUPLICATE_KEY"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeRateLimit       = "RATE_LIMIT_EXCEEDED"
	ErrCodeInvalidID       = "INVALID_ID"
	ErrCodeInvalidBody     = "INVALID_BODY"
	ErrCodeCourseNotFound  = "COURSE_NOT_FOUND"
	ErrCodeUserNotFound    = "USER_NOT_FOUND"
	ErrCodeStudentNotFound = "STUDENT_NOT_FOUND"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// 分類用の番兵エラー。ラップして返し、ハンドラ層でHTTPステータスに変換する。
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// FieldViolation は1フィールドの検証違反。
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError は書き込み前の検証で見つかった違反の集合。
type ValidationError struct {
	Entity     string
	Violations []FieldViolation
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Message)
	}
	return fmt.Sprintf("%s validation failed: %s", e.Entity, strings.Join(msgs, "; "))
}

// Add は違反を追加する。
func (e *ValidationError) Add(field, message string) {
	e.Violations = append(e.Violations, FieldViolation{Field: field, Message: message})
}

// OrNil は違反がなければnilを返す。
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Violations) == 0 {
		return nil
	}
	return e
}

// DuplicateKeyError は一意インデックス違反を表す。
type DuplicateKeyError struct {
	Field string
}

// Error はerrorインターフェースを実装する。
func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s already exists", e.Field)
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewCourseNotFoundError はコースが見つからない場合のエラーを生成する。
func NewCourseNotFoundError(courseID string) *APIError {
	return &APIError{
		Code:     ErrCodeCourseNotFound,
		Message:  fmt.Sprintf("指定されたコースが見つかりません: %s", courseID),
		Category: "course",
		Action:   "コースIDを確認してください。",
	}
}

// NewStudentNotFoundError は受講者として指定されたユーザーが存在しない場合のエラーを生成する。
func NewStudentNotFoundError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeStudentNotFound,
		Message:  fmt.Sprintf("Student not found: %s", userID),
		Category: "course",
		Action:   "受講者のユーザーIDを確認してください。",
	}
}

// NewInvalidIDError は不正なID形式のエラーを生成する。
func NewInvalidIDError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidID,
		Message:  fmt.Sprintf("無効なIDです: %s", id),
		Category: "validation",
		Action:   "正しいIDを指定してください。",
	}
}

// NewInvalidBodyError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidBodyError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidBody,
		Message:  "リクエストボディが不正です。",
		Category: "validation",
		Action:   "JSON形式のリクエストボディを送信してください。",
	}
}

// NewForbiddenError は所有者以外による操作のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "コースの作成者のみが変更できます。",
	}
}
