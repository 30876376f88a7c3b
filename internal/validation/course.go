package validation

import (
	"encoding/json"

	"github.com/hitoshi/codetutor/internal/model"
)

type courseRules struct {
	Title       string             `json:"title" validate:"required,min=3,max=100"`
	Description string             `json:"description" validate:"required,min=10,max=5000"`
	Professor   string             `json:"professor" validate:"required"`
	Level       string             `json:"level" validate:"required,oneof=beginner intermediate advanced"`
	Topics      []string           `json:"topics" validate:"dive,min=2,max=50"`
	Content     []contentItemRules `json:"content" validate:"dive"`
	Duration    int                `json:"duration" validate:"min=1,max=1440"`
}

type contentItemRules struct {
	Title       string          `json:"title" validate:"required,max=200"`
	Description string          `json:"description" validate:"max=2000"`
	Type        string          `json:"type" validate:"required,oneof=text video exercise quiz"`
	Data        json.RawMessage `json:"data" validate:"payload"`
	Order       int             `json:"order" validate:"min=0"`
}

// ValidateCourse はCourseの書き込み前検査を行う。
// 所要時間が[1, 1440]分の範囲外であれば必ず違反となる。
func ValidateCourse(c *model.Course) error {
	items := make([]contentItemRules, len(c.Content))
	for i, it := range c.Content {
		items[i] = contentItemRules{
			Title:       it.Title,
			Description: it.Description,
			Type:        string(it.Type),
			Data:        it.Data,
			Order:       it.Order,
		}
	}

	return validateStruct("course", &courseRules{
		Title:       c.Title,
		Description: c.Description,
		Professor:   c.ProfessorID,
		Level:       string(c.Level),
		Topics:      c.Topics,
		Content:     items,
		Duration:    c.Duration,
	}).OrNil()
}
