package bootstrap

import (
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"docqa/internal/config"
	"docqa/internal/metrics"
	"docqa/internal/vectorindex/memory"
	"docqa/internal/vectorindex/redisstore"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestNewVectorIndexBackends(t *testing.T) {
	cfg := testConfig(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg.Retrieval.IndexBackend = config.IndexBackendMemory
	idx, err := newVectorIndex(cfg.Retrieval, nil)
	require.NoError(t, err)
	assert.IsType(t, &memory.Index{}, idx)

	cfg.Retrieval.IndexBackend = config.IndexBackendRedis
	idx, err = newVectorIndex(cfg.Retrieval, client)
	require.NoError(t, err)
	assert.IsType(t, &redisstore.Store{}, idx)

	_, err = newVectorIndex(cfg.Retrieval, nil)
	assert.Error(t, err)

	cfg.Retrieval.IndexBackend = "faiss"
	_, err = newVectorIndex(cfg.Retrieval, client)
	assert.Error(t, err)
}

func TestBuildServices(t *testing.T) {
	cfg := testConfig(t)
	sqlDB, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc, err := buildServices(cfg, db, client, nil, metrics.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)
	assert.NotNil(t, svc.orchestrator)
	assert.NotNil(t, svc.auth)
	assert.NotNil(t, svc.documents)
	assert.NotNil(t, svc.qa)
}
