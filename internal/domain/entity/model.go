package entity

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// User - участник учебного процесса (студент, преподаватель, администратор)
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Course struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	TeacherID   int64     `json:"teacher_id"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Question struct {
	Text    string   `json:"text"`
	Options []string `json:"options"`
	Answer  int      `json:"answer"`
}

type Quiz struct {
	ID        int64      `json:"id"`
	CourseID  int64      `json:"course_id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
	PassScore int        `json:"pass_score"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type Message struct {
	ID          int64     `json:"id"`
	SenderID    int64     `json:"sender_id"`
	RecipientID int64     `json:"recipient_id"`
	Subject     string    `json:"subject"`
	Content     string    `json:"content"`
	SentAt      time.Time `json:"sent_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Document - сущность в том виде, в каком ее хранит сервер:
// идентификатор, произвольный JSON объект и время последнего изменения.
type Document struct {
	ID        int64           `json:"id"`
	Kind      Kind            `json:"kind"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Flatten собирает плоский JSON объект: поля данных + id и updated_at
func (d Document) Flatten() (map[string]any, error) {
	fields := map[string]any{}
	if len(d.Data) > 0 {
		var err error
		if fields, err = decodeObject(d.Data); err != nil {
			return nil, err
		}
		if fields == nil {
			fields = map[string]any{}
		}
	}
	fields["id"] = d.ID
	fields["updated_at"] = d.UpdatedAt.UTC().Format(time.RFC3339Nano)
	return fields, nil
}

// decodeObject разбирает JSON объект, сохраняя числа как json.Number:
// int64 за пределами 2^53 (в том числе временные id) не теряют точность
func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON object")
	}
	return fields, nil
}
