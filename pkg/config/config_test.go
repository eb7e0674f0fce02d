package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/fiscal-adapter/pkg/config"
)

func TestLoad_ValoresPorDefecto(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "America/New_York", cfg.Fiscal.Timezone)
	assert.Equal(t, 5, cfg.Queue.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Queue.BaseDelay)
	assert.Equal(t, 30*time.Minute, cfg.Queue.MaxDelay)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.Breaker.Cooldown)
	assert.False(t, cfg.Cert.AssumeAnnulmentWhenUnsupported)
	assert.False(t, cfg.Kafka.Enabled)
}

func TestLoad_DesdeEntorno(t *testing.T) {
	t.Setenv("QUEUE_BASE_DELAY", "10s")
	t.Setenv("BREAKER_COOLDOWN", "90")
	t.Setenv("CERT_ASSUME_ANNULMENT_WHEN_UNSUPPORTED", "true")
	t.Setenv("FISCAL_ENVIRONMENT", "production")
	t.Setenv("FISCAL_REQUIRED_HEADERS_PRODUCTION", "X-Device-Id, X-Environment,")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Queue.BaseDelay)
	assert.Equal(t, 90*time.Second, cfg.Breaker.Cooldown)
	assert.True(t, cfg.Cert.AssumeAnnulmentWhenUnsupported)
	assert.Equal(t, []string{"X-Device-Id", "X-Environment"}, cfg.Fiscal.RequiredHeaders)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestValidate_AgregaProblemas(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Breaker.Store = "etcd"
	cfg.Fiscal.RegistryBaseURL = ""
	cfg.Cert.EncryptionKey = "corta"

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BREAKER_STORE")
	assert.Contains(t, err.Error(), "FISCAL_REGISTRY_URL")
	assert.Contains(t, err.Error(), "CERT_ENCRYPTION_KEY")
}

func TestValidate_ConfiguracionCompleta(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Fiscal.RegistryBaseURL = "https://registro.test"
	cfg.Fiscal.CertificationCode = "CERT-1"
	cfg.JWT.Secret = "secreto"
	cfg.Cert.EncryptionKey = "0123456789abcdef0123456789abcdef"

	assert.NoError(t, cfg.Validate())
}

func TestDBConfig_DSNEscapaPassword(t *testing.T) {
	c := config.DBConfig{Host: "db", Port: 5432, User: "app", Password: "p@ss/word", DBName: "fiscal", SSLMode: "disable"}
	assert.Equal(t, "postgres://app:p%40ss%2Fword@db:5432/fiscal?sslmode=disable", c.DSN())

	c.DatabaseURL = "postgres://otro"
	assert.Equal(t, "postgres://otro", c.ConnectionString())
}
