package xa

import (
	"context"
	"errors"
	"testing"

	"github.com/source-build/ojp/internal/ojperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInit_SuccessMarksAvailable(t *testing.T) {
	m := Init(context.Background(), 1, func(context.Context) error { return nil }, zap.NewNop())
	assert.True(t, m.Available())
}

// Spec.md §7: fatal initialization is logged, server continues; subsequent
// XA open calls fail with FailedPrecondition.
func TestInit_FailureIsNonFatalButBlocksOpen(t *testing.T) {
	m := Init(context.Background(), 1, func(context.Context) error { return errors.New("connect refused") }, zap.NewNop())
	assert.False(t, m.Available())

	_, err := m.Open(context.Background(), nil, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ojperr.FailedPrecond))
}
