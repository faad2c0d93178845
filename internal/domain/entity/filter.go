package entity

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Condition - одно условие фильтра: поле JSON объекта равно значению
type Condition struct {
	Field string
	Value string
}

// Filter - конъюнкция условий. Пустой фильтр пропускает все.
// Строковая форма: "course_id=12,title=Go".
type Filter []Condition

func ParseFilter(s string) (Filter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	filter := make(Filter, 0, len(parts))
	for _, part := range parts {
		field, value, ok := strings.Cut(part, "=")
		field = strings.TrimSpace(field)
		if !ok || field == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFilter, part)
		}
		if !validField(field) {
			return nil, fmt.Errorf("%w: bad field %q", ErrInvalidFilter, field)
		}
		filter = append(filter, Condition{Field: field, Value: strings.TrimSpace(value)})
	}

	sort.SliceStable(filter, func(i, j int) bool { return filter[i].Field < filter[j].Field })

	return filter, nil
}

// MustFilter для констант в коде и тестах
func MustFilter(s string) Filter {
	f, err := ParseFilter(s)
	if err != nil {
		panic(err)
	}
	return f
}

func (f Filter) String() string {
	parts := make([]string, len(f))
	for i, c := range f {
		parts[i] = c.Field + "=" + c.Value
	}
	return strings.Join(parts, ",")
}

// Match проверяет сериализованную сущность
func (f Filter) Match(data []byte) bool {
	if len(f) == 0 {
		return true
	}

	fields, err := decodeObject(data)
	if err != nil {
		return false
	}

	for _, c := range f {
		v, ok := fields[c.Field]
		if !ok {
			return false
		}
		if scalarString(v) != c.Value {
			return false
		}
	}

	return true
}

func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return "null"
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}

// validField допускает только имена полей вида snake_case, имя попадает в SQL
func validField(field string) bool {
	for _, r := range field {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}
