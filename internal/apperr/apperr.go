// Package apperr описывает таксономию ошибок ядра каталога и их отображение в HTTP-статусы.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Kind описывает класс ошибки.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindInsufficientStock
	KindForbidden
	KindConflict
	KindConsistency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindConsistency:
		return "consistency"
	}
	return "internal"
}

// Error описывает ошибку ядра с классом, операцией и безопасным сообщением.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
	Fields  map[string]string
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.Fields[k])
		}
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap открывает исходную ошибку для errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по классу, чтобы работали сторожевые значения ниже.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// With добавляет поля, описывающие сущности, к копии ошибки.
func (e *Error) With(kv ...string) *Error {
	c := *e
	c.Fields = make(map[string]string, len(e.Fields)+len(kv)/2)
	for k, v := range e.Fields {
		c.Fields[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		c.Fields[kv[i]] = kv[i+1]
	}
	return &c
}

// Сторожевые значения для errors.Is: совпадают с любой ошибкой того же класса.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrConsistency       = &Error{Kind: KindConsistency}
)

func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

func NotFound(op, entity, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: entity + " not found", Fields: map[string]string{entity + "_id": id}}
}

func InsufficientStock(op, productID, sku string) *Error {
	return &Error{
		Kind:    KindInsufficientStock,
		Op:      op,
		Message: "insufficient stock",
		Fields:  map[string]string{"product_id": productID, "sku": sku},
	}
}

func Forbidden(op, format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Conflict(op, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Consistency описывает сбой компенсирующего шага. Требует ручной или автоматической сверки.
func Consistency(op string, err error, kv ...string) *Error {
	e := &Error{Kind: KindConsistency, Op: op, Message: "compensation failed, reconciliation required", Err: err}
	return e.With(kv...)
}

// KindOf возвращает класс ошибки; ошибки вне таксономии считаются внутренними.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus отображает ошибку в HTTP-статус.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInsufficientStock, KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// PublicMessage возвращает сообщение, которое можно показать клиенту.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal && e.Kind != KindConsistency {
		return e.Message
	}
	return http.StatusText(http.StatusInternalServerError)
}
