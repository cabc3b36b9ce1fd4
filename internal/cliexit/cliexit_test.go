package cliexit

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mgit-dev/mgit/internal/provider"
)

func TestCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, Success},
		{"canceled", context.Canceled, UserCancel},
		{"auth", fmt.Errorf("wrap: %w", provider.ErrAuth), AuthFailure},
		{"permission", fmt.Errorf("wrap: %w", provider.ErrPermission), AuthFailure},
		{"config", fmt.Errorf("wrap: %w", provider.ErrConfig), ConfigError},
		{"invalid argument", fmt.Errorf("wrap: %w", provider.ErrInvalidArgument), InvalidArgument},
		{"invalid query", fmt.Errorf("wrap: %w", provider.ErrInvalidQuery), InvalidArgument},
		{"other", fmt.Errorf("boom"), PartialFailure},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Code(c.err))
		})
	}
}
