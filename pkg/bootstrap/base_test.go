package bootstrap_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgvault/internal/config"
	"msgvault/internal/logger"
	"msgvault/pkg/bootstrap"
)

func TestBaseShutdownRunsAdditionalShutdown(t *testing.T) {
	base := bootstrap.NewBase(&config.Config{}, logger.NopLogger())

	called := false
	err := base.Shutdown(context.Background(), func(ctx context.Context) []error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestBaseShutdownAggregatesErrors(t *testing.T) {
	base := bootstrap.NewBase(&config.Config{}, logger.NopLogger())

	err := base.Shutdown(context.Background(), func(ctx context.Context) []error {
		return []error{fmt.Errorf("server close failed"), fmt.Errorf("store close failed")}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server close failed")
	assert.Contains(t, err.Error(), "store close failed")
}

func TestBaseShutdownWithoutCallback(t *testing.T) {
	base := bootstrap.NewBase(&config.Config{}, logger.NopLogger())
	assert.NoError(t, base.Shutdown(context.Background(), nil))
}
