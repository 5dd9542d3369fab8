package scheduler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"thermoline/internal/config"
	"thermoline/internal/engine"
	"thermoline/internal/scheduler"
)

func TestNewAcceptsDefaultSpecs(t *testing.T) {
	cfg := config.Default()
	s, err := scheduler.New(cfg, engine.Engine{Config: cfg}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestNewRejectsBadSpec(t *testing.T) {
	cfg := config.Default()
	cfg.Sweeps.Escalations = "every minute or so"
	_, err := scheduler.New(cfg, engine.Engine{Config: cfg}, zap.NewNop())
	assert.ErrorContains(t, err, "invalid cron spec")
}
