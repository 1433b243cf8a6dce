package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	dErrors "privata/pkg/domain-errors"
	"privata/pkg/platform/sentinel"
)

func TestErrorClass(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"timeout", fmt.Errorf("query: %w", context.DeadlineExceeded), "timeout"},
		{"canceled", context.Canceled, "canceled"},
		{"not found", fmt.Errorf("clinical: %w", sentinel.ErrNotFound), "not_found"},
		{"conflict", sentinel.ErrConflict, "conflict"},
		{"coded", dErrors.New(dErrors.CodeInternal, "entity carries an invalid pseudonym"), "internal_error"},
		{"driver message", errors.New("Key (pseudonym)=(psn_1) already exists"), "store_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorClass(tt.err))
		})
	}
}
