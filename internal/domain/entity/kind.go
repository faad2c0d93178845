package entity

import (
	"fmt"

	"github.com/danielgtaylor/huma/v2"
)

// Kind - семейство сущностей, у каждого своя таблица в локальном хранилище
type Kind string

const (
	KindUser    Kind = "users"
	KindCourse  Kind = "courses"
	KindQuiz    Kind = "quizzes"
	KindMessage Kind = "messages"
)

// Kinds возвращает все поддерживаемые семейства в стабильном порядке
func Kinds() []Kind {
	return []Kind{KindUser, KindCourse, KindQuiz, KindMessage}
}

func (Kind) Schema(huma.Registry) *huma.Schema {
	return &huma.Schema{
		Type: "string",
		Enum: []any{
			string(KindUser),
			string(KindCourse),
			string(KindQuiz),
			string(KindMessage),
		},
		Description: "Семейство сущностей",
		Examples:    []any{KindCourse},
	}
}

// Validate реализует интерфейс huma.Validatable.
func (k Kind) Validate() error {
	switch k {
	case KindUser, KindCourse, KindQuiz, KindMessage:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
}

func (k Kind) String() string {
	return string(k)
}

// Singular возвращает имя в единственном числе (для CLI)
func (k Kind) Singular() string {
	switch k {
	case KindUser:
		return "user"
	case KindCourse:
		return "course"
	case KindQuiz:
		return "quiz"
	case KindMessage:
		return "message"
	default:
		return string(k)
	}
}

// ParseKind принимает как "courses", так и "course"
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if s == string(k) || s == k.Singular() {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}
