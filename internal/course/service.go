// Package course はコース管理のドメインロジックを提供する。
package course

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/codetutor/internal/metrics"
	"github.com/hitoshi/codetutor/internal/model"
	"github.com/hitoshi/codetutor/internal/repository"
	"github.com/hitoshi/codetutor/internal/security"
	"github.com/hitoshi/codetutor/internal/validation"
)

// 一覧系クエリの件数制約
const (
	DefaultListLimit    = 50
	DefaultPopularLimit = 10
	MaxListLimit        = 100
)

// Service はコース管理のサービス層。
// 作成・更新・公開状態の変更・受講登録と一覧系クエリを提供する。
type Service struct {
	courseRepo repository.CourseRepository
	userRepo   repository.UserRepository
	sanitizer  security.ContentSanitizerService
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	courseRepo repository.CourseRepository,
	userRepo repository.UserRepository,
	sanitizer security.ContentSanitizerService,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	return &Service{
		courseRepo: courseRepo,
		userRepo:   userRepo,
		sanitizer:  sanitizer,
		metrics:    collector,
		logger:     logger,
	}
}

// Create は呼び出したユーザーを作成者としてコースを作成する。
// 受講者IDはすべて既存ユーザーに解決できなければならない。
func (s *Service) Create(ctx context.Context, professorID string, in *model.CourseInput) (*model.Course, error) {
	if professorID == "" {
		return nil, model.ErrUnauthorized
	}

	c := &model.Course{
		Title:       in.Title,
		Description: in.Description,
		ProfessorID: professorID,
		StudentIDs:  dedupe(in.StudentIDs),
		Level:       in.Level,
		Topics:      in.Topics,
		Content:     in.Content,
		Duration:    in.Duration,
	}
	if c.Level == "" {
		c.Level = model.LevelBeginner
	}

	security.SanitizeCourse(s.sanitizer, c)
	if err := validation.ValidateCourse(c); err != nil {
		return nil, err
	}

	for _, id := range c.StudentIDs {
		if err := s.resolveStudent(ctx, id); err != nil {
			return nil, err
		}
	}

	if err := s.courseRepo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("コースの作成に失敗しました: %w", err)
	}

	s.metrics.RecordCourseCreated()
	s.logger.Info("コースを作成しました",
		slog.String("course_id", c.ID),
		slog.String("professor_id", professorID),
		slog.Int("content_count", c.ContentCount()),
	)
	return c, nil
}

// Update はコースを部分更新する。作成者以外は変更できない。
func (s *Service) Update(ctx context.Context, callerID, courseID string, in *model.CourseUpdate) (*model.Course, error) {
	c, err := s.getOwned(ctx, callerID, courseID)
	if err != nil {
		return nil, err
	}

	if in.Title != nil {
		c.Title = *in.Title
	}
	if in.Description != nil {
		c.Description = *in.Description
	}
	if in.Level != nil {
		c.Level = *in.Level
	}
	if in.Topics != nil {
		c.Topics = *in.Topics
	}
	if in.Content != nil {
		c.Content = *in.Content
	}
	if in.Duration != nil {
		c.Duration = *in.Duration
	}

	security.SanitizeCourse(s.sanitizer, c)
	if err := validation.ValidateCourse(c); err != nil {
		return nil, err
	}

	if err := s.courseRepo.Update(ctx, c); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.NewCourseNotFoundError(courseID)
		}
		return nil, fmt.Errorf("コースの更新に失敗しました: %w", err)
	}
	return c, nil
}

// Get はコースを返す。非公開のコースは作成者にのみ見える。
func (s *Service) Get(ctx context.Context, viewerID, courseID string) (*model.Course, error) {
	c, err := s.courseRepo.FindByID(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("コースの取得に失敗しました: %w", err)
	}
	if c == nil || (!c.IsPublished && c.ProfessorID != viewerID) {
		return nil, model.NewCourseNotFoundError(courseID)
	}
	return c, nil
}

// Publish はコースを公開する。
func (s *Service) Publish(ctx context.Context, callerID, courseID string) (*model.Course, error) {
	return s.setPublished(ctx, callerID, courseID, true)
}

// Unpublish はコースを非公開に戻す。
func (s *Service) Unpublish(ctx context.Context, callerID, courseID string) (*model.Course, error) {
	return s.setPublished(ctx, callerID, courseID, false)
}

func (s *Service) setPublished(ctx context.Context, callerID, courseID string, published bool) (*model.Course, error) {
	if _, err := s.getOwned(ctx, callerID, courseID); err != nil {
		return nil, err
	}

	c, err := s.courseRepo.SetPublished(ctx, courseID, published)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.NewCourseNotFoundError(courseID)
		}
		return nil, fmt.Errorf("公開状態の変更に失敗しました: %w", err)
	}

	s.logger.Info("コースの公開状態を変更しました",
		slog.String("course_id", courseID),
		slog.String("status", c.Status()),
	)
	return c, nil
}

// AddStudent はユーザーをコースの受講者に追加し、更新後のコースを返す。
// 既に受講済みの場合はfalseを返す。
func (s *Service) AddStudent(ctx context.Context, courseID, userID string) (*model.Course, bool, error) {
	if err := s.resolveStudent(ctx, userID); err != nil {
		return nil, false, err
	}

	c, err := s.courseRepo.FindByID(ctx, courseID)
	if err != nil {
		return nil, false, fmt.Errorf("コースの取得に失敗しました: %w", err)
	}
	if c == nil || (!c.IsPublished && c.ProfessorID != userID) {
		return nil, false, model.NewCourseNotFoundError(courseID)
	}

	added, err := s.courseRepo.AddStudent(ctx, courseID, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, false, model.NewCourseNotFoundError(courseID)
		}
		return nil, false, fmt.Errorf("受講登録に失敗しました: %w", err)
	}

	c, err = s.reload(ctx, courseID)
	if err != nil {
		return nil, false, err
	}
	return c, added, nil
}

// RemoveStudent はユーザーを受講者から外し、更新後のコースを返す。受講していない場合はfalseを返す。
// 非公開のコースからも外れることができる。
func (s *Service) RemoveStudent(ctx context.Context, courseID, userID string) (*model.Course, bool, error) {
	removed, err := s.courseRepo.RemoveStudent(ctx, courseID, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, false, model.NewCourseNotFoundError(courseID)
		}
		return nil, false, fmt.Errorf("受講解除に失敗しました: %w", err)
	}

	c, err := s.reload(ctx, courseID)
	if err != nil {
		return nil, false, err
	}
	return c, removed, nil
}

// reload は受講者の変更後にコースを読み直す。公開状態による可視性の判定は行わない。
func (s *Service) reload(ctx context.Context, courseID string) (*model.Course, error) {
	c, err := s.courseRepo.FindByID(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("コースの取得に失敗しました: %w", err)
	}
	if c == nil {
		return nil, model.NewCourseNotFoundError(courseID)
	}
	return c, nil
}

// ListPublished は公開中のコースを新しい順に返す。
func (s *Service) ListPublished(ctx context.Context, limit int) ([]*model.Course, error) {
	courses, err := s.courseRepo.ListPublished(ctx, clampLimit(limit, DefaultListLimit))
	if err != nil {
		return nil, fmt.Errorf("コース一覧の取得に失敗しました: %w", err)
	}
	return courses, nil
}

// ListByProfessor は指定ユーザーが作成したコースを新しい順に返す。下書きを含む。
func (s *Service) ListByProfessor(ctx context.Context, professorID string) ([]*model.Course, error) {
	courses, err := s.courseRepo.ListByProfessor(ctx, professorID)
	if err != nil {
		return nil, fmt.Errorf("コース一覧の取得に失敗しました: %w", err)
	}
	return courses, nil
}

// ListByLevel は指定難易度の公開中コースを返す。
func (s *Service) ListByLevel(ctx context.Context, level string) ([]*model.Course, error) {
	l := model.Level(strings.ToLower(strings.TrimSpace(level)))
	if !l.Valid() {
		ve := &model.ValidationError{Entity: "course"}
		ve.Add("level", "Level must be one of beginner, intermediate, advanced")
		return nil, ve
	}

	courses, err := s.courseRepo.ListByLevel(ctx, l)
	if err != nil {
		return nil, fmt.Errorf("コース一覧の取得に失敗しました: %w", err)
	}
	return courses, nil
}

// Search は公開中コースを全文検索し、関連度順に返す。
func (s *Service) Search(ctx context.Context, query string, limit int) ([]*model.Course, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		ve := &model.ValidationError{Entity: "course"}
		ve.Add("q", "Search query is required")
		return nil, ve
	}

	courses, err := s.courseRepo.Search(ctx, q, clampLimit(limit, DefaultListLimit))
	if err != nil {
		return nil, fmt.Errorf("コースの検索に失敗しました: %w", err)
	}
	return courses, nil
}

// Popular は受講者数の多い公開中コースを返す。limitが0以下の場合は10件。
func (s *Service) Popular(ctx context.Context, limit int) ([]*model.PopularCourse, error) {
	courses, err := s.courseRepo.Popular(ctx, clampLimit(limit, DefaultPopularLimit))
	if err != nil {
		return nil, fmt.Errorf("人気コースの取得に失敗しました: %w", err)
	}
	return courses, nil
}

// getOwned はコースを取得し、呼び出し元が作成者であることを確認する。
func (s *Service) getOwned(ctx context.Context, callerID, courseID string) (*model.Course, error) {
	c, err := s.courseRepo.FindByID(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("コースの取得に失敗しました: %w", err)
	}
	if c == nil {
		return nil, model.NewCourseNotFoundError(courseID)
	}
	if c.ProfessorID != callerID {
		return nil, model.NewForbiddenError()
	}
	return c, nil
}

func (s *Service) resolveStudent(ctx context.Context, userID string) error {
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("受講者の取得に失敗しました: %w", err)
	}
	if u == nil {
		return model.NewStudentNotFoundError(userID)
	}
	return nil
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
