package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Class - класс ошибки удаленного вызова, от него зависит реакция ядра
type Class string

const (
	// ClassNetwork - сеть, таймаут; повторяется
	ClassNetwork Class = "network"
	// ClassServerFault - 5xx; повторяется
	ClassServerFault Class = "server_fault"
	// ClassClientFault - 4xx, данные отвергнуты; не повторяется
	ClassClientFault Class = "client_fault"
	// ClassUnauthorized - нужна повторная аутентификация, это не ошибка данных
	ClassUnauthorized Class = "unauthorized"
)

type Error struct {
	Class   Class
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("gateway %s (status %d): %s", e.Class, e.Status, msg)
	}
	return fmt.Sprintf("gateway %s: %s", e.Class, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NetworkError(err error) *Error {
	return &Error{Class: ClassNetwork, Err: err}
}

// StatusError классифицирует ответ сервера по коду
func StatusError(status int, message string) *Error {
	e := &Error{Status: status, Message: message}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Class = ClassUnauthorized
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		e.Class = ClassNetwork
	case status >= 500:
		e.Class = ClassServerFault
	default:
		e.Class = ClassClientFault
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// ClassOf возвращает класс ошибки. Неклассифицированные ошибки, в том числе
// истекший таймаут вызова, считаются сетевыми.
func ClassOf(err error) Class {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Class
	}
	return ClassNetwork
}

func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	c := ClassOf(err)
	return c == ClassNetwork || c == ClassServerFault
}

func IsPermanent(err error) bool {
	return err != nil && ClassOf(err) == ClassClientFault
}

func IsUnauthorized(err error) bool {
	return err != nil && ClassOf(err) == ClassUnauthorized
}

func IsNotFound(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Status == http.StatusNotFound
}
