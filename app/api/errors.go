package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"compliancerag/types"
)

func ErrorHandler(c *fiber.Ctx, err error) error {
	if apiError, ok := err.(Error); ok {
		return c.Status(apiError.Code).JSON(apiError)
	}
	if valError, ok := err.(ValidationError); ok {
		return c.Status(valError.Status).JSON(valError)
	}

	apiError := fromDomainError(err)
	fmt.Printf("%s Request failed with code %d and message: %s\n", time.Now().Format(time.RFC3339), apiError.Code, apiError.Message)
	return c.Status(apiError.Code).JSON(apiError)
}

// fromDomainError maps pipeline/retrieval error kinds onto HTTP statuses.
func fromDomainError(err error) Error {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, types.ErrUnsupportedFormat), errors.Is(err, types.ErrEmptyDocument):
		return NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, types.ErrIndexUnavailable),
		errors.Is(err, types.ErrEmbeddingUnavailable),
		errors.Is(err, types.ErrGenerationFailed):
		return NewError(fiber.StatusBadGateway, err.Error())
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return NewError(fiberErr.Code, fiberErr.Message)
	}
	return NewError(fiber.StatusInternalServerError, err.Error())
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

// Error implements the error interface
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: fiber.StatusUnprocessableEntity,
		Errors: errors,
	}
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid JSON request",
	}
}
