// Package cliexit maps errors returned from the core packages to the
// process exit codes named in the CLI surface.
package cliexit

import (
	"context"
	"errors"

	"github.com/mgit-dev/mgit/internal/provider"
)

const (
	Success         = 0
	PartialFailure  = 1
	AuthFailure     = 2
	ConfigError     = 3
	InvalidArgument = 4
	UserCancel      = 130
)

// Code inspects err and returns the exit code the CLI should use. A nil err
// yields Success.
func Code(err error) int {
	if err == nil {
		return Success
	}

	switch {
	case errors.Is(err, context.Canceled):
		return UserCancel
	case errors.Is(err, provider.ErrAuth), errors.Is(err, provider.ErrPermission):
		return AuthFailure
	case errors.Is(err, provider.ErrConfig):
		return ConfigError
	case errors.Is(err, provider.ErrInvalidArgument), errors.Is(err, provider.ErrInvalidQuery):
		return InvalidArgument
	default:
		return PartialFailure
	}
}
