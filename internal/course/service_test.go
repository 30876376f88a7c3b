package course

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/codetutor/internal/metrics"
	"github.com/hitoshi/codetutor/internal/model"
	"github.com/hitoshi/codetutor/internal/repository"
	"github.com/hitoshi/codetutor/internal/security"
)

// --- モック定義 ---

type mockCourseRepo struct {
	findByIDFn        func(ctx context.Context, id string) (*model.Course, error)
	createFn          func(ctx context.Context, c *model.Course) error
	updateFn          func(ctx context.Context, c *model.Course) error
	setPublishedFn    func(ctx context.Context, id string, published bool) (*model.Course, error)
	addStudentFn      func(ctx context.Context, courseID, userID string) (bool, error)
	removeStudentFn   func(ctx context.Context, courseID, userID string) (bool, error)
	listPublishedFn   func(ctx context.Context, limit int) ([]*model.Course, error)
	listByProfessorFn func(ctx context.Context, professorID string) ([]*model.Course, error)
	listByLevelFn     func(ctx context.Context, level model.Level) ([]*model.Course, error)
	searchFn          func(ctx context.Context, q string, limit int) ([]*model.Course, error)
	popularFn         func(ctx context.Context, limit int) ([]*model.PopularCourse, error)
}

var _ repository.CourseRepository = (*mockCourseRepo)(nil)

func (m *mockCourseRepo) FindByID(ctx context.Context, id string) (*model.Course, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockCourseRepo) Create(ctx context.Context, c *model.Course) error {
	if m.createFn != nil {
		return m.createFn(ctx, c)
	}
	c.ID = "course-1"
	return nil
}

func (m *mockCourseRepo) Update(ctx context.Context, c *model.Course) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, c)
	}
	return nil
}

func (m *mockCourseRepo) SetPublished(ctx context.Context, id string, published bool) (*model.Course, error) {
	if m.setPublishedFn != nil {
		return m.setPublishedFn(ctx, id, published)
	}
	return &model.Course{ID: id, IsPublished: published}, nil
}

func (m *mockCourseRepo) AddStudent(ctx context.Context, courseID, userID string) (bool, error) {
	if m.addStudentFn != nil {
		return m.addStudentFn(ctx, courseID, userID)
	}
	return true, nil
}

func (m *mockCourseRepo) RemoveStudent(ctx context.Context, courseID, userID string) (bool, error) {
	if m.removeStudentFn != nil {
		return m.removeStudentFn(ctx, courseID, userID)
	}
	return true, nil
}

func (m *mockCourseRepo) ListPublished(ctx context.Context, limit int) ([]*model.Course, error) {
	if m.listPublishedFn != nil {
		return m.listPublishedFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockCourseRepo) ListByProfessor(ctx context.Context, professorID string) ([]*model.Course, error) {
	if m.listByProfessorFn != nil {
		return m.listByProfessorFn(ctx, professorID)
	}
	return nil, nil
}

func (m *mockCourseRepo) ListByLevel(ctx context.Context, level model.Level) ([]*model.Course, error) {
	if m.listByLevelFn != nil {
		return m.listByLevelFn(ctx, level)
	}
	return nil, nil
}

func (m *mockCourseRepo) Search(ctx context.Context, q string, limit int) ([]*model.Course, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, q, limit)
	}
	return nil, nil
}

func (m *mockCourseRepo) Popular(ctx context.Context, limit int) ([]*model.PopularCourse, error) {
	if m.popularFn != nil {
		return m.popularFn(ctx, limit)
	}
	return nil, nil
}

type mockUserRepo struct {
	repository.UserRepository
	findByIDFn func(ctx context.Context, id string) (*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return &model.User{ID: id}, nil
}

type countingMetrics struct {
	metrics.Nop
	created int
}

func (c *countingMetrics) RecordCourseCreated() { c.created++ }

func newTestService(courses *mockCourseRepo, users *mockUserRepo, m metrics.MetricsCollector) *Service {
	if users == nil {
		users = &mockUserRepo{}
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return NewService(courses, users, security.NewContentSanitizer(), m, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func validInput() *model.CourseInput {
	return &model.CourseInput{
		Title:       "Go入門",
		Description: "Goの基本文法とツールチェインを学ぶコースです。",
		Level:       model.LevelBeginner,
		Topics:      []string{"go", "basics"},
		Content: []model.ContentItem{
			{Title: "Hello", Type: model.ContentText, Data: json.RawMessage(`{"body":"hi"}`), Order: 0},
		},
		Duration: 90,
	}
}

// --- テスト ---

func TestCreate_SetsProfessorAndRecordsMetric(t *testing.T) {
	var stored *model.Course
	repo := &mockCourseRepo{
		createFn: func(ctx context.Context, c *model.Course) error {
			c.ID = "course-1"
			stored = c
			return nil
		},
	}
	m := &countingMetrics{}
	svc := newTestService(repo, nil, m)

	c, err := svc.Create(context.Background(), "prof-1", validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ProfessorID != "prof-1" {
		t.Errorf("ProfessorID = %q, want %q", c.ProfessorID, "prof-1")
	}
	if c.IsPublished {
		t.Error("new course should be a draft")
	}
	if stored == nil || stored.ID != "course-1" {
		t.Error("course should be stored")
	}
	if m.created != 1 {
		t.Errorf("courses created metric = %d, want 1", m.created)
	}
}

// TestCreate_DurationOutOfRange は所要時間が範囲外のコースが保存されないことを検証する。
func TestCreate_DurationOutOfRange(t *testing.T) {
	for _, d := range []int{0, 1441, 2000} {
		created := false
		repo := &mockCourseRepo{
			createFn: func(ctx context.Context, c *model.Course) error {
				created = true
				return nil
			},
		}
		in := validInput()
		in.Duration = d

		_, err := newTestService(repo, nil, nil).Create(context.Background(), "prof-1", in)
		var ve *model.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("duration %d: expected ValidationError, got %v", d, err)
		}
		if created {
			t.Errorf("duration %d: course should not be stored", d)
		}
		if d > model.MaxCourseDuration && !strings.Contains(ve.Error(), "1440") {
			t.Errorf("duration %d: message should mention 1440, got %q", d, ve.Error())
		}
	}
}

func TestCreate_SanitizesText(t *testing.T) {
	in := validInput()
	in.Title = "<b>Go</b> & Tools"
	in.Description = `<p>安全な説明文です</p><script>alert(1)</script>`

	c, err := newTestService(&mockCourseRepo{}, nil, nil).Create(context.Background(), "prof-1", in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Title != "Go & Tools" {
		t.Errorf("Title = %q", c.Title)
	}
	if strings.Contains(c.Description, "script") {
		t.Errorf("Description should not contain script: %q", c.Description)
	}
}

func TestCreate_UnknownStudentIsRejected(t *testing.T) {
	users := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			if id == "ghost" {
				return nil, nil
			}
			return &model.User{ID: id}, nil
		},
	}
	in := validInput()
	in.StudentIDs = []string{"u-1", "ghost"}

	_, err := newTestService(&mockCourseRepo{}, users, nil).Create(context.Background(), "prof-1", in)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeStudentNotFound {
		t.Fatalf("expected STUDENT_NOT_FOUND, got %v", err)
	}
	if !strings.Contains(apiErr.Message, "ghost") {
		t.Errorf("message should name the student: %q", apiErr.Message)
	}
}

func TestCreate_Unauthenticated(t *testing.T) {
	_, err := newTestService(&mockCourseRepo{}, nil, nil).Create(context.Background(), "", validInput())
	if !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func ownedCourse() *model.Course {
	return &model.Course{
		ID:          "course-1",
		Title:       "Go入門",
		Description: "Goの基本文法とツールチェインを学ぶコースです。",
		ProfessorID: "prof-1",
		Level:       model.LevelBeginner,
		Duration:    60,
		CreatedAt:   time.Now(),
	}
}

func TestUpdate_OwnerOnly(t *testing.T) {
	repo := &mockCourseRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Course, error) {
			return ownedCourse(), nil
		},
	}
	svc := newTestService(repo, nil, nil)
	title := "Go実践"

	_, err := svc.Update(context.Background(), "someone-else", "course-1", &model.CourseUpdate{Title: &title})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeForbidden {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}

	c, err := svc.Update(context.Background(), "prof-1", "course-1", &model.CourseUpdate{Title: &title})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Title != title || c.Duration != 60 {
		t.Errorf("partial update mismatch: %+v", c)
	}
}

func TestUpdate_InvalidDurationIsNotStored(t *testing.T) {
	updated := false
	repo := &mockCourseRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Course, error) {
			return ownedCourse(), nil
		},
		updateFn: func(ctx context.Context, c *model.Course) error {
			updated = true
			return nil
		},
	}
	d := 2000

	_, err := newTestService(repo, nil, nil).Update(context.Background(), "prof-1", "course-1", &model.CourseUpdate{Duration: &d})
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if updated {
		t.Error("Update should not be called")
	}
}

func TestGet_DraftVisibleToOwnerOnly(t *testing.T) {
	repo := &mockCourseRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Course, error) {
			return ownedCourse(), nil
		},
	}
	svc := newTestService(repo, nil, nil)

	if _, err := svc.Get(context.Background(), "prof-1", "course-1"); err != nil {
		t.Errorf("owner should see draft: %v", err)
	}

	_, err := svc.Get(context.Background(), "", "course-1")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeCourseNotFound {
		t.Errorf("expected COURSE_NOT_FOUND for anonymous viewer, got %v", err)
	}
}

func TestPublish(t *testing.T) {
	var gotPublished bool
	repo := &mockCourseRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Course, error) {
			return ownedCourse(), nil
		},
		setPublishedFn: func(ctx context.Context, id string, published bool) (*model.Course, error) {
			gotPublished = published
			c := ownedCourse()
			c.IsPublished = published
			return c, nil
		},
	}
	svc := newTestService(repo, nil, nil)

	c, err := svc.Publish(context.Background(), "prof-1", "course-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !gotPublished || c.Status() != model.CourseStatusPublished {
		t.Errorf("status = %q, want published", c.Status())
	}

	c, err = svc.Unpublish(context.Background(), "prof-1", "course-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Status() != model.CourseStatusDraft {
		t.Errorf("status = %q, want draft", c.Status())
	}

	if _, err := svc.Publish(context.Background(), "intruder", "course-1"); err == nil {
		t.Error("non-owner should not publish")
	}
}

func TestAddStudent(t *testing.T) {
	published := ownedCourse()
	published.IsPublished = true

	enrolled := map[string]bool{}
	repo := &mockCourseRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Course, error) {
			c := *published
			return &c, nil
		},
		addStudentFn: func(ctx context.Context, courseID, userID string) (bool, error) {
			if enrolled[userID] {
				return false, nil
			}
			enrolled[userID] = true
			return true, nil
		},
	}
	svc := newTestService(repo, nil, nil)

	c, added, err := svc.AddStudent(context.Background(), "course-1", "u-1")
	if err != nil || !added {
		t.Fatalf("first AddStudent = %v, %v", added, err)
	}
	if c == nil || c.ID != "course-1" {
		t.Errorf("course = %+v, want course-1", c)
	}
	_, added, err = svc.AddStudent(context.Background(), "course-1", "u-1")
	if err != nil || added {
		t.Fatalf("second AddStudent = %v, %v; want false, nil", added, err)
	}
}

func TestAddStudent_UnknownUser(t *testing.T) {
	users := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) { return nil, nil },
	}
	_, _, err := newTestService(&mockCourseRepo{}, users, nil).AddStudent(context.Background(), "course-1", "ghost")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeStudentNotFound {
		t.Fatalf("expected STUDENT_NOT_FOUND, got %v", err)
	}
}

func TestRemoveStudent_MissingCourse(t *testing.T) {
	repo := &mockCourseRepo{
		removeStudentFn: func(ctx context.Context, courseID, userID string) (bool, error) {
			return false, model.ErrNotFound
		},
	}
	_, _, err := newTestService(repo, nil, nil).RemoveStudent(context.Background(), "nope", "u-1")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeCourseNotFound {
		t.Fatalf("expected COURSE_NOT_FOUND, got %v", err)
	}
}

// TestRemoveStudent_UnpublishedCourse は受講者が非公開コースから外れられ、
// 外れた後のコースが返ることを検証する。
func TestRemoveStudent_UnpublishedCourse(t *testing.T) {
	draft := ownedCourse()
	draft.StudentIDs = []string{"stu"}

	repo := &mockCourseRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Course, error) {
			c := *draft
			c.StudentIDs = append([]string(nil), draft.StudentIDs...)
			return &c, nil
		},
		removeStudentFn: func(ctx context.Context, courseID, userID string) (bool, error) {
			draft.StudentIDs = nil
			return true, nil
		},
	}

	c, removed, err := newTestService(repo, nil, nil).RemoveStudent(context.Background(), "course-1", "stu")
	if err != nil {
		t.Fatalf("RemoveStudent: %v", err)
	}
	if !removed {
		t.Error("removed = false, want true")
	}
	if c.IsPublished || c.StudentCount() != 0 {
		t.Errorf("course = %+v, want draft without students", c)
	}
}

func TestListByLevel(t *testing.T) {
	var gotLevel model.Level
	repo := &mockCourseRepo{
		listByLevelFn: func(ctx context.Context, level model.Level) ([]*model.Course, error) {
			gotLevel = level
			return []*model.Course{ownedCourse()}, nil
		},
	}
	svc := newTestService(repo, nil, nil)

	if _, err := svc.ListByLevel(context.Background(), "Advanced"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotLevel != model.LevelAdvanced {
		t.Errorf("level = %q, want advanced", gotLevel)
	}

	var ve *model.ValidationError
	if _, err := svc.ListByLevel(context.Background(), "expert"); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for unknown level, got %v", err)
	}
}

func TestSearch_RequiresQuery(t *testing.T) {
	called := false
	repo := &mockCourseRepo{
		searchFn: func(ctx context.Context, q string, limit int) ([]*model.Course, error) {
			called = true
			return nil, nil
		},
	}
	var ve *model.ValidationError
	if _, err := newTestService(repo, nil, nil).Search(context.Background(), "   ", 0); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if called {
		t.Error("repository should not be queried with an empty query")
	}
}

func TestPopular_DefaultAndMaxLimit(t *testing.T) {
	var got []int
	repo := &mockCourseRepo{
		popularFn: func(ctx context.Context, limit int) ([]*model.PopularCourse, error) {
			got = append(got, limit)
			return nil, nil
		},
	}
	svc := newTestService(repo, nil, nil)

	for _, l := range []int{0, 5, 1000} {
		if _, err := svc.Popular(context.Background(), l); err != nil {
			t.Fatal(err)
		}
	}
	want := []int{DefaultPopularLimit, 5, MaxListLimit}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("limit[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestListPublished_RepositoryError(t *testing.T) {
	repo := &mockCourseRepo{
		listPublishedFn: func(ctx context.Context, limit int) ([]*model.Course, error) {
			return nil, errors.New("connection reset")
		},
	}
	if _, err := newTestService(repo, nil, nil).ListPublished(context.Background(), 0); err == nil {
		t.Fatal("expected error")
	}
}
