// Package errors provides error handling and HTTP status code mapping.
package errors

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/remiblancher/sehal/internal/api/dto"
	"github.com/remiblancher/sehal/internal/api/service"
	"github.com/remiblancher/sehal/pkg/firmware"
	"github.com/remiblancher/sehal/pkg/hal"
)

// Error codes for API responses.
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeNotFound        = "NOT_FOUND"
	CodeNotSupported    = "NOT_SUPPORTED"
	CodeBufferTooSmall  = "BUFFER_TOO_SMALL"
	CodeAllocFailed     = "ALLOC_FAILED"
	CodeHardwareTimeout = "HARDWARE_TIMEOUT"
	CodeCanceled        = "REQUEST_CANCELED"
	CodeFirmwareError   = "FIRMWARE_ERROR"
	CodeInternal        = "INTERNAL_ERROR"
)

// MapError maps an internal error to an HTTP status code and APIError.
func MapError(err error) (int, *dto.APIError) {
	if err == nil {
		return http.StatusOK, nil
	}

	if errors.Is(err, service.ErrBadRequest) {
		return http.StatusBadRequest, NewBadRequest(err.Error())
	}

	var halErr *hal.Error
	if !errors.As(err, &halErr) {
		return http.StatusInternalServerError, &dto.APIError{
			Code:    CodeInternal,
			Message: "An internal error occurred",
		}
	}

	details := map[string]string{
		"operation": halErr.Op,
		"result":    strconv.Itoa(hal.Code(err)),
	}
	if halErr.Status != firmware.StatusOK {
		details["firmware_status"] = halErr.Status.String()
	}
	apiErr := &dto.APIError{Message: err.Error(), Details: details}

	switch {
	case halErr.Status == firmware.StatusEmptySlot:
		apiErr.Code = CodeNotFound
		return http.StatusNotFound, apiErr
	case errors.Is(err, hal.ErrInvalidArgs):
		apiErr.Code = CodeInvalidRequest
		return http.StatusBadRequest, apiErr
	case errors.Is(err, hal.ErrNotSupported):
		apiErr.Code = CodeNotSupported
		return http.StatusNotImplemented, apiErr
	case errors.Is(err, hal.ErrNotEnoughMemory):
		apiErr.Code = CodeBufferTooSmall
		return http.StatusRequestEntityTooLarge, apiErr
	case errors.Is(err, hal.ErrAllocFailed):
		apiErr.Code = CodeAllocFailed
		return http.StatusInsufficientStorage, apiErr
	case errors.Is(err, hal.ErrHardwareTimeout):
		apiErr.Code = CodeHardwareTimeout
		return http.StatusServiceUnavailable, apiErr
	case errors.Is(err, hal.ErrCanceled):
		apiErr.Code = CodeCanceled
		return http.StatusRequestTimeout, apiErr
	}

	apiErr.Code = CodeFirmwareError
	return http.StatusBadGateway, apiErr
}

// NewBadRequest creates a bad request error.
func NewBadRequest(message string) *dto.APIError {
	return &dto.APIError{
		Code:    CodeInvalidRequest,
		Message: message,
	}
}

// NewNotFound creates a not found error.
func NewNotFound(resource, id string) *dto.APIError {
	return &dto.APIError{
		Code:    CodeNotFound,
		Message: resource + " not found",
		Details: map[string]string{"id": id},
	}
}
