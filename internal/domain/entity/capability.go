package entity

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Capability описывает, как обобщенный репозиторий работает с конкретным типом:
// как его идентифицировать, сериализовать и сливать с ответом сервера.
type Capability[T any] interface {
	Kind() Kind
	Identify(v T) int64
	Assign(v T, id int64) T
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
	// Merge сводит локальную версию с подтвержденной сервером
	Merge(local, remote T) T
}

// Dependency - связанные данные, которые надо загрузить заранее для офлайн режима
type Dependency struct {
	Kind   Kind
	Filter string
}

// Dependent реализуют типы, у которых есть зависимые данные
type Dependent[T any] interface {
	Dependencies(v T) []Dependency
}

type jsonCapability[T any] struct {
	kind     Kind
	identify func(T) int64
	assign   func(T, int64) T
	merge    func(local, remote T) T
	deps     func(T) []Dependency
}

func (c jsonCapability[T]) Kind() Kind         { return c.kind }
func (c jsonCapability[T]) Identify(v T) int64 { return c.identify(v) }

func (c jsonCapability[T]) Assign(v T, id int64) T {
	return c.assign(v, id)
}

func (c jsonCapability[T]) Encode(v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.kind, err)
	}
	return data, nil
}

func (c jsonCapability[T]) Decode(data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: decode %s: %v", ErrInvalidData, c.kind, err)
	}
	return v, nil
}

func (c jsonCapability[T]) Merge(local, remote T) T {
	if c.merge == nil {
		return remote
	}
	return c.merge(local, remote)
}

func (c jsonCapability[T]) Dependencies(v T) []Dependency {
	if c.deps == nil {
		return nil
	}
	return c.deps(v)
}

// Users, Courses, Quizzes и Messages - возможности четырех семейств сущностей.
var (
	Users    Capability[User]    = users()
	Courses  Capability[Course]  = courses()
	Quizzes  Capability[Quiz]    = quizzes()
	Messages Capability[Message] = messages()
)

func users() jsonCapability[User] {
	return jsonCapability[User]{
		kind:     KindUser,
		identify: func(u User) int64 { return u.ID },
		assign:   func(u User, id int64) User { u.ID = id; return u },
		deps: func(u User) []Dependency {
			return []Dependency{{Kind: KindMessage, Filter: "recipient_id=" + strconv.FormatInt(u.ID, 10)}}
		},
	}
}

func courses() jsonCapability[Course] {
	return jsonCapability[Course]{
		kind:     KindCourse,
		identify: func(c Course) int64 { return c.ID },
		assign:   func(c Course, id int64) Course { c.ID = id; return c },
		deps: func(c Course) []Dependency {
			return []Dependency{{Kind: KindQuiz, Filter: "course_id=" + strconv.FormatInt(c.ID, 10)}}
		},
	}
}

func quizzes() jsonCapability[Quiz] {
	return jsonCapability[Quiz]{
		kind:     KindQuiz,
		identify: func(q Quiz) int64 { return q.ID },
		assign:   func(q Quiz, id int64) Quiz { q.ID = id; return q },
		merge: func(local, remote Quiz) Quiz {
			// Сервер может вернуть тест без вопросов (короткая форма ответа)
			if len(remote.Questions) == 0 {
				remote.Questions = local.Questions
			}
			return remote
		},
	}
}

func messages() jsonCapability[Message] {
	return jsonCapability[Message]{
		kind:     KindMessage,
		identify: func(m Message) int64 { return m.ID },
		assign:   func(m Message, id int64) Message { m.ID = id; return m },
		merge: func(local, remote Message) Message {
			if remote.SentAt.IsZero() {
				remote.SentAt = local.SentAt
			}
			return remote
		},
	}
}
