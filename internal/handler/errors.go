package handler

import (
	"errors"

	"willsave/internal/datastore"
	"willsave/internal/service"
	"willsave/pkg/apierror"
)

// apiError maps domain errors onto API errors.
func apiError(err error) error {
	if _, ok := apierror.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, datastore.ErrInsufficientCurrency):
		return apierror.Conflict("Not enough gems to spend!")
	case errors.Is(err, datastore.ErrInvalidAmount):
		return apierror.ValidationError(err.Error())
	case errors.Is(err, service.ErrInvalidURL):
		return apierror.BadRequest(err.Error())
	case errors.Is(err, service.ErrLinkFailed):
		return apierror.Unprocessable(err.Error())
	case errors.Is(err, service.ErrNotLinked), errors.Is(err, service.ErrPointsUninitialized):
		return apierror.Conflict(err.Error())
	case errors.Is(err, service.ErrProgressUnavailable):
		return apierror.BadGateway(err.Error())
	}
	return err
}
