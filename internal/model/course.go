package model

import (
	"encoding/json"
	"time"
)

// Level はコースの難易度。
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
)

// Valid は定義済みの難易度かどうかを返す。
func (l Level) Valid() bool {
	switch l {
	case LevelBeginner, LevelIntermediate, LevelAdvanced:
		return true
	}
	return false
}

// ContentType はコンテンツ項目の種別。
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentVideo    ContentType = "video"
	ContentExercise ContentType = "exercise"
	ContentQuiz     ContentType = "quiz"
)

// コース状態のラベル
const (
	CourseStatusPublished = "published"
	CourseStatusDraft     = "draft"
)

// 所要時間の範囲（分）
const (
	MinCourseDuration = 1
	MaxCourseDuration = 1440
)

// Course は学習コンテンツの集約を表す。
type Course struct {
	ID          string
	Title       string
	Description string
	ProfessorID string
	StudentIDs  []string
	Level       Level
	Topics      []string
	Content     []ContentItem
	Duration    int
	IsPublished bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ContentItem はコースに埋め込まれたコンテンツ項目。
// Dataは種別ごとに形が異なるため解釈しない。
type ContentItem struct {
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Type        ContentType     `json:"type"`
	Data        json.RawMessage `json:"data"`
	Order       int             `json:"order"`
}

// StudentCount は受講者数を返す。
func (c *Course) StudentCount() int { return len(c.StudentIDs) }

// ContentCount はコンテンツ項目数を返す。
func (c *Course) ContentCount() int { return len(c.Content) }

// Status は公開状態のラベルを返す。
func (c *Course) Status() string {
	if c.IsPublished {
		return CourseStatusPublished
	}
	return CourseStatusDraft
}

// HasStudent は指定ユーザーが受講済みかどうかを返す。
func (c *Course) HasStudent(userID string) bool {
	for _, id := range c.StudentIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// CourseView は派生フィールドを含むAPIレスポンス表現。
type CourseView struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Professor    string        `json:"professor"`
	Students     []string      `json:"students"`
	Level        Level         `json:"level"`
	Topics       []string      `json:"topics"`
	Content      []ContentItem `json:"content"`
	Duration     int           `json:"duration"`
	IsPublished  bool          `json:"isPublished"`
	StudentCount int           `json:"studentCount"`
	Status       string        `json:"status"`
	ContentCount int           `json:"contentCount"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// View は派生フィールドを計算したレスポンス表現に変換する。
func (c *Course) View() *CourseView {
	students := c.StudentIDs
	if students == nil {
		students = []string{}
	}
	topics := c.Topics
	if topics == nil {
		topics = []string{}
	}
	content := c.Content
	if content == nil {
		content = []ContentItem{}
	}
	return &CourseView{
		ID:           c.ID,
		Title:        c.Title,
		Description:  c.Description,
		Professor:    c.ProfessorID,
		Students:     students,
		Level:        c.Level,
		Topics:       topics,
		Content:      content,
		Duration:     c.Duration,
		IsPublished:  c.IsPublished,
		StudentCount: c.StudentCount(),
		Status:       c.Status(),
		ContentCount: c.ContentCount(),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

// CourseInput はコース作成の入力。
type CourseInput struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Level       Level         `json:"level"`
	Topics      []string      `json:"topics"`
	Content     []ContentItem `json:"content"`
	Duration    int           `json:"duration"`
	StudentIDs  []string      `json:"students"`
}

// CourseUpdate はコースの部分更新の入力。nilのフィールドは変更しない。
type CourseUpdate struct {
	Title       *string        `json:"title"`
	Description *string        `json:"description"`
	Level       *Level         `json:"level"`
	Topics      *[]string      `json:"topics"`
	Content     *[]ContentItem `json:"content"`
	Duration    *int           `json:"duration"`
}

// PopularCourse は受講者数ランキングの1件。
type PopularCourse struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Level        Level  `json:"level"`
	Duration     int    `json:"duration"`
	StudentCount int    `json:"studentCount"`
}
