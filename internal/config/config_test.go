package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, AuthLocal, cfg.AuthProvider)
	assert.Equal(t, IdentityFile, cfg.IdentityStore)
	assert.Equal(t, 720*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.False(t, cfg.UsesRedis())
	assert.False(t, cfg.UsesGCP())
}

func TestLoad_InvalidHTTPPort(t *testing.T) {
	t.Setenv("BUSYBUY_HTTP_PORT", "0")

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
}

func TestLoad_UnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "mongo")

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_BACKEND")
}

func TestLoad_RedisBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr)
	assert.True(t, cfg.UsesRedis())
}

func TestLoad_FirestoreNeedsProject(t *testing.T) {
	t.Setenv("STORE_BACKEND", "firestore")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GCP_PROJECT_ID")

	t.Setenv("GCP_PROJECT_ID", "busybuy-dev")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.UsesGCP())
}

func TestLoad_FirebaseNeedsAPIKey(t *testing.T) {
	t.Setenv("AUTH_PROVIDER", "firebase")
	t.Setenv("GCP_PROJECT_ID", "busybuy-dev")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FIREBASE_API_KEY")
}

func TestLoad_KafkaBrokers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestLoad_InvalidOTELSampleRate(t *testing.T) {
	t.Setenv("OTEL_SAMPLE_RATE", "2.0")

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OTEL_SAMPLE_RATE must be between 0.0 and 1.0")
}

func TestLoad_InvalidBcryptCost(t *testing.T) {
	t.Setenv("BCRYPT_COST", "2")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BCRYPT_COST")
}

func TestLoad_InvalidAuthAttemptBurst(t *testing.T) {
	t.Setenv("AUTH_ATTEMPT_BURST", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_ATTEMPT_BURST")
}
