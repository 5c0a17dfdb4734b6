package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/p-blackswan/taskflow/internal/config"
)

func TestServerConfig_TLS(t *testing.T) {
	cfg := &config.Config{
		ListenAddr:     ":8443",
		AuthMode:       "none",
		RateLimitRPS:   5,
		RateLimitBurst: 10,
		TLSCert:        "/etc/tls/cert.pem",
		TLSKey:         "/etc/tls/key.pem",
	}

	sc := serverConfig(cfg, nil)
	assert.True(t, sc.TLSEnabled)
	assert.Equal(t, "/etc/tls/cert.pem", sc.TLSCert)
	assert.Equal(t, "/etc/tls/key.pem", sc.TLSKey)
	assert.Equal(t, ":8443", sc.ListenAddr)
	assert.Equal(t, 5, sc.RateLimit.RPS)
	assert.Equal(t, 10, sc.RateLimit.Burst)
	assert.Equal(t, "none", sc.AuthConfig.Mode)
}

func TestServerConfig_PlainHTTP(t *testing.T) {
	cfg := &config.Config{ListenAddr: ":8080", TLSCert: "/etc/tls/cert.pem"}

	sc := serverConfig(cfg, nil)
	assert.False(t, sc.TLSEnabled)
	assert.Empty(t, sc.TLSCert)
	assert.Empty(t, sc.TLSKey)
}
