package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/closetswap/swapchat/internal/chat"
	"github.com/closetswap/swapchat/internal/trade"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(statusCode int) *ApiError {
	return &ApiError{
		StatusCode: statusCode,
		Message:    lower(http.StatusText(statusCode)),
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest)
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound)
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized)
}

func NewForbiddenError() *ApiError {
	return newApiError(http.StatusForbidden)
}

func NewConflictError() *ApiError {
	return newApiError(http.StatusConflict)
}

func NewInternalServerError(err error) *ApiError {
	e := newApiError(http.StatusInternalServerError)
	e.Err = err
	return e
}

// serviceError maps errors returned by the chat and trade services to the
// response sent to the caller.
func serviceError(err error) *ApiError {
	var e *ApiError
	switch {
	case errors.Is(err, chat.ErrEmptyContent), errors.Is(err, trade.ErrInvalidOffer):
		e = NewBadRequestError()
		e.Message = err.Error()
	case errors.Is(err, chat.ErrNotParticipant), errors.Is(err, trade.ErrForbidden):
		e = NewForbiddenError()
	case errors.Is(err, chat.ErrMatchNotFound), errors.Is(err, trade.ErrMatchNotFound), errors.Is(err, trade.ErrNotFound):
		e = NewNotFoundError()
		e.Message = err.Error()
	case errors.Is(err, trade.ErrNotPending), errors.Is(err, trade.ErrActiveOffer), errors.Is(err, trade.ErrClothingUnavailable):
		e = NewConflictError()
		e.Message = err.Error()
	default:
		e = NewInternalServerError(err)
	}

	return e
}
