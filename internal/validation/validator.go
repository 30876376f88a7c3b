// Package validation は永続化前にUser/Courseの不変条件を検査する純粋関数を提供する。
//
// go-playground/validatorのシングルトンでタグベースの検査を行い、
// 結果をmodel.ValidationErrorのフィールド違反に変換する。
// ストアには一切アクセスしないため、一意性の検査はインデックスに委ねる。
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/codetutor/internal/model"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

var (
	emailPattern     = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	avatarURLPattern = regexp.MustCompile(`^https?://.+`)
)

// GetValidator はカスタムルール登録済みのシングルトンを返す。
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())

		// 違反のフィールド名はJSONの名前で報告する
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})

		_ = v.RegisterValidation("basic_email", func(fl validator.FieldLevel) bool {
			return emailPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("http_url", func(fl validator.FieldLevel) bool {
			return avatarURLPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("payload", func(fl validator.FieldLevel) bool {
			raw := strings.TrimSpace(string(fl.Field().Bytes()))
			return raw != "" && raw != "null"
		})

		validate = v
	})
	return validate
}

// messageOverrides はフィールドとタグの組に固有のメッセージ。
var messageOverrides = map[string]string{
	"duration.min":       fmt.Sprintf("Duration must be at least %d minute", model.MinCourseDuration),
	"duration.max":       fmt.Sprintf("Duration cannot exceed 24 hours (%d minutes)", model.MaxCourseDuration),
	"email.basic_email":  "Please enter a valid email",
	"avatarUrl.http_url": "Avatar URL must be a valid URL",
	"level.oneof":        "Level must be beginner, intermediate, or advanced",
	"provider.oneof":     "Provider must be github or local",
}

var messageTemplates = map[string]string{
	"required": "%s is required",
	"payload":  "%s is required",
}

// validateStruct はsを検査し、違反をentity名付きのValidationErrorに集約する。
func validateStruct(entity string, s any) *model.ValidationError {
	ve := &model.ValidationError{Entity: entity}

	err := GetValidator().Struct(s)
	if err == nil {
		return ve
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		ve.Add("unknown", err.Error())
		return ve
	}

	for _, fe := range fieldErrs {
		ve.Add(fieldPath(fe), translate(fe))
	}
	return ve
}

// fieldPath は先頭の構造体名を除いた名前空間を返す。例: content[0].title
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func translate(fe validator.FieldError) string {
	field := fe.Field()
	if msg, ok := messageOverrides[field+"."+fe.Tag()]; ok {
		return msg
	}
	if tmpl, ok := messageTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field)
	}

	isString := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if isString {
			return fmt.Sprintf("%s cannot exceed %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s cannot exceed %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
