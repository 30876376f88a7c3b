package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/codetutor/internal/middleware"
	"github.com/hitoshi/codetutor/internal/model"
)

// CourseServiceInterface はコースハンドラーが必要とするサービスインターフェース。
type CourseServiceInterface interface {
	Create(ctx context.Context, professorID string, in *model.CourseInput) (*model.Course, error)
	Update(ctx context.Context, callerID, courseID string, in *model.CourseUpdate) (*model.Course, error)
	Get(ctx context.Context, viewerID, courseID string) (*model.Course, error)
	Publish(ctx context.Context, callerID, courseID string) (*model.Course, error)
	Unpublish(ctx context.Context, callerID, courseID string) (*model.Course, error)
	AddStudent(ctx context.Context, courseID, userID string) (*model.Course, bool, error)
	RemoveStudent(ctx context.Context, courseID, userID string) (*model.Course, bool, error)
	ListPublished(ctx context.Context, limit int) ([]*model.Course, error)
	ListByProfessor(ctx context.Context, professorID string) ([]*model.Course, error)
	ListByLevel(ctx context.Context, level string) ([]*model.Course, error)
	Search(ctx context.Context, query string, limit int) ([]*model.Course, error)
	Popular(ctx context.Context, limit int) ([]*model.PopularCourse, error)
}

// CourseHandler はコースのHTTPハンドラー。
type CourseHandler struct {
	service CourseServiceInterface
	errors  errorWriter
}

// NewCourseHandler はCourseHandlerを生成する。
func NewCourseHandler(service CourseServiceInterface, logger *slog.Logger, hideDetails bool) *CourseHandler {
	return &CourseHandler{
		service: service,
		errors:  errorWriter{logger: logger, hideDetails: hideDetails},
	}
}

// enrollmentResponse は受講登録・解除の結果。
type enrollmentResponse struct {
	Changed bool              `json:"changed"`
	Course  *model.CourseView `json:"course"`
}

// ListPublished は公開中のコース一覧を返す。
// GET /api/courses?limit=N
func (h *CourseHandler) ListPublished(w http.ResponseWriter, r *http.Request) {
	courses, err := h.service.ListPublished(r.Context(), queryLimit(r))
	if err != nil {
		h.errors.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCourseViews(courses))
}

// Search は全文検索で公開中のコースを返す。
// GET /api/courses/search?q=xxx&limit=N
func (h *CourseHandler) Search(w http.ResponseWriter, r *http.Request) {
	courses, err := h.service.Search(r.Context(), r.URL.Query().Get("q"), queryLimit(r))
	if err != nil {
		h.errors.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCourseViews(courses))
}

// Popular は受講者数の多い順にコースを返す。
// GET /api/courses/popular?limit=N
func (h *CourseHandler) Popular(w http.ResponseWriter, r *http.Request) {
	courses, err := h.service.Popular(r.Context(), queryLimit(r))
	if err != nil {
		h.errors.writeError(w, r, err)
		return
	}
	if courses == nil {
		courses = []*model.PopularCourse{}
	}
	writeJSON(w, http.StatusOK, courses)
}

// ListByLevel は指定難易度の公開中コースを返す。
// GET /api/courses/level/{level}
func (h *CourseHandler) ListByLevel(w http.ResponseWriter, r *http.Request) {
	courses, err := h.service.ListByLevel(r.Context(), chi.URLParam(r, "level"))
	if err != nil {
		h.errors.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCourseViews(courses))
}

// Get はコースの詳細を返す。下書きは作成者のみ参照できる。
// GET /api/courses/{id}
func (h *CourseHandler) Get(w http.ResponseWriter, r *http.Request) {
	viewerID, _ := middleware.UserIDFromContext(r.Context())

	c, err := h.service.Get(r.Context(), viewerID, chi.URLParam(r, "id"))
	if err != nil {
		h.errors.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

// Create はコースを作成する。作成者はログイン中のユーザー。
// POST /api/courses
func (h *CourseHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	var in model.CourseInput
	if err := decodeJSON(r, &in); err != nil {
		h.errors.writeError(w, r, err)
		return
	}

	c, err := h.service.Create(r.Context(), userID, &in)
	if err != nil {
		h.errors.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c.View())
}

// Update はコースを部分更新する。
// PATCH /api/courses/{id}
func (h *CourseHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	var in model.CourseUpdate
	if err := decodeJSON(r, &in); err != nil {
		h.errors.writeError(w, r, err)
		return
	}

	c, err := h.service.Update(r.Context(), userID, chi.URLParam(r, "id"), &in)
	if err != nil {
		h.errors.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

// Publish はコースを公開する。
// POST /api/courses/{id}/publish
func (h *CourseHandler) Publish(w http.ResponseWriter, r *http.Request) {
	h.setPublished(w, r, true)
}

// Unpublish はコースを下書きに戻す。
// DELETE /api/courses/{id}/publish
func (h *CourseHandler) Unpublish(w http.ResponseWriter, r *http.Request) {
	h.setPublished(w, r, false)
}

func (h *CourseHandler) setPublished(w http.ResponseWriter, r *http.Request, published bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	courseID := chi.URLParam(r, "id")
	var c *model.Course
	if published {
		c, err = h.service.Publish(r.Context(), userID, courseID)
	} else {
		c, err = h.service.Unpublish(r.Context(), userID, courseID)
	}
	if err != nil {
		h.errors.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

// Enroll はログイン中のユーザーをコースの受講者に追加する。
// POST /api/courses/{id}/students
func (h *CourseHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	h.changeEnrollment(w, r, true)
}

// Leave はログイン中のユーザーをコースの受講者から外す。
// DELETE /api/courses/{id}/students
func (h *CourseHandler) Leave(w http.ResponseWriter, r *http.Request) {
	h.changeEnrollment(w, r, false)
}

func (h *CourseHandler) changeEnrollment(w http.ResponseWriter, r *http.Request, enroll bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	courseID := chi.URLParam(r, "id")
	var (
		c       *model.Course
		changed bool
	)
	if enroll {
		c, changed, err = h.service.AddStudent(r.Context(), courseID, userID)
	} else {
		c, changed, err = h.service.RemoveStudent(r.Context(), courseID, userID)
	}
	if err != nil {
		h.errors.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, enrollmentResponse{Changed: changed, Course: c.View()})
}

// --- ヘルパー関数 ---

// queryLimit はlimitクエリパラメータを読み取る。未指定や不正な値は0（既定値）を返す。
func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}

func toCourseViews(courses []*model.Course) []*model.CourseView {
	views := make([]*model.CourseView, 0, len(courses))
	for _, c := range courses {
		views = append(views, c.View())
	}
	return views
}
