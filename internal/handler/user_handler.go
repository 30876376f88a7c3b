package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/codetutor/internal/middleware"
	"github.com/hitoshi/codetutor/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	UpdateProfile(ctx context.Context, userID string, in *model.UserProfileUpdate) (*model.User, error)
}

// TaughtCourseLister は作成したコースの一覧を取得する。
type TaughtCourseLister interface {
	ListByProfessor(ctx context.Context, professorID string) ([]*model.Course, error)
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	courses TaughtCourseLister
	errors  errorWriter
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, courses TaughtCourseLister, logger *slog.Logger, hideDetails bool) *UserHandler {
	return &UserHandler{
		service: service,
		courses: courses,
		errors:  errorWriter{logger: logger, hideDetails: hideDetails},
	}
}

// Me はログイン中のユーザーの公開プロフィールを返す。
// GET /api/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	if u, ok := middleware.UserFromContext(r.Context()); ok {
		writeJSON(w, http.StatusOK, u.Public())
		return
	}

	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}
	u, err := h.service.GetByID(r.Context(), userID)
	if err != nil {
		h.errors.writeError(w, r, err)
		return
	}
	if u == nil {
		h.errors.writeError(w, r, model.NewUserNotFoundError())
		return
	}
	writeJSON(w, http.StatusOK, u.Public())
}

// UpdateMe は表示名・アバターURL・メールを更新する。
// PATCH /api/users/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	var in model.UserProfileUpdate
	if err := decodeJSON(r, &in); err != nil {
		h.errors.writeError(w, r, err)
		return
	}

	u, err := h.service.UpdateProfile(r.Context(), userID, &in)
	if err != nil {
		h.errors.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u.Public())
}

// MyCourses はログイン中のユーザーが作成したコースを新しい順に返す。
// GET /api/users/me/courses
func (h *UserHandler) MyCourses(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	courses, err := h.courses.ListByProfessor(r.Context(), userID)
	if err != nil {
		h.errors.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCourseViews(courses))
}
