package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	cfg := GetDefaultConfig()
	return cfg
}

func TestValidateAcceptsDefaultConfig(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidateRejectsNoListeners(t *testing.T) {
	cfg := validConfig()
	cfg.Listeners = nil
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsNoSubsystems(t *testing.T) {
	cfg := validConfig()
	cfg.Subsystems = nil
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsDuplicateNQN(t *testing.T) {
	cfg := validConfig()
	cfg.Subsystems = append(cfg.Subsystems, cfg.Subsystems[0])
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsDuplicateNSID(t *testing.T) {
	cfg := validConfig()
	cfg.Subsystems[0].Namespaces = append(cfg.Subsystems[0].Namespaces, cfg.Subsystems[0].Namespaces[0])
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsMissingBackendConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Subsystems[0].Namespaces[0].Memory = nil
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsInvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "VERBOSE"
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsZeroShutdownTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.ShutdownTimeout = 0
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsUnknownSchedulingPolicy(t *testing.T) {
	cfg := validConfig()
	cfg.Transport.SchedulingPolicy = "least_loaded"
	assert.Error(t, Validate(cfg))
}

func TestValidateRequiresPersistencePathWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.Persistence.Enabled = true
	cfg.Persistence.Path = ""
	assert.Error(t, Validate(cfg))
}
