package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 2, cfg.WorkerCount)
	assert.Equal(t, "ap-northeast-1", cfg.AWSRegion)
	assert.Equal(t, 24*time.Hour, cfg.ApprovalTTL)
	assert.Equal(t, 30*time.Minute, cfg.RecentOrderWindow)
	assert.Equal(t, "ai_secretary_orders", cfg.OrdersTable)
	assert.False(t, cfg.DelayedResponseEnabled)
	assert.Empty(t, cfg.ApprovalGroupID)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("APPROVAL_GROUP_ID", "C1234567890")
	t.Setenv("APPROVAL_TTL", "12h")
	t.Setenv("ENABLE_DELAYED_RESPONSE", "true")
	t.Setenv("RESPONSE_DELAY", "90s")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("ORDERS_TABLE", "orders_staging")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.Equal(t, "C1234567890", cfg.ApprovalGroupID)
	assert.Equal(t, 12*time.Hour, cfg.ApprovalTTL)
	assert.True(t, cfg.DelayedResponseEnabled)
	assert.Equal(t, 90*time.Second, cfg.ResponseDelay)
	assert.True(t, cfg.RedisTLS)
	assert.Equal(t, "orders_staging", cfg.OrdersTable)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("WORKER_COUNT", "not-a-number")
	t.Setenv("APPROVAL_TTL", "soon")
	t.Setenv("REDIS_TLS", "yes please")

	cfg := Load()

	assert.Equal(t, 2, cfg.WorkerCount)
	assert.Equal(t, 24*time.Hour, cfg.ApprovalTTL)
	assert.False(t, cfg.RedisTLS)
}
