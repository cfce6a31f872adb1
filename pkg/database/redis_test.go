package database

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func miniredisConfig(t *testing.T) (*miniredis.Miniredis, RedisConfig) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	cfg := DefaultRedisConfig()
	cfg.Host = mr.Host()
	cfg.Port = port
	return mr, cfg
}

func TestNewRedisClient_Connects(t *testing.T) {
	_, cfg := miniredisConfig(t)

	client, err := NewRedisClient(context.Background(), cfg)
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, RedisChecker(client)(context.Background()))
}

func TestNewRedisClient_PingFailure(t *testing.T) {
	mr, cfg := miniredisConfig(t)
	mr.Close()

	_, err := NewRedisClient(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis")
}

func TestRedisChecker_ServerDown(t *testing.T) {
	mr, cfg := miniredisConfig(t)
	client, err := NewRedisClient(context.Background(), cfg)
	require.NoError(t, err)
	defer client.Close()

	mr.Close()
	assert.Error(t, RedisChecker(client)(context.Background()))
}

func TestRedisConfig_Addr(t *testing.T) {
	cfg := RedisConfig{Host: "cache.internal", Port: 6380}
	assert.Equal(t, "cache.internal:6380", cfg.Addr())
}
