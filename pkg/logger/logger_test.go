package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigFromEnvironment(t *testing.T) {
	assert.Equal(t, Config{}, ConfigFromEnvironment(map[string]string{}))
	assert.Equal(t, Config{JSON: true, Debug: true, File: "/var/log/sirihub.log"}, ConfigFromEnvironment(map[string]string{
		"SIRIHUB_LOG_FORMAT": "JSON",
		"SIRIHUB_DEBUG":      "YES",
		"SIRIHUB_LOG_FILE":   "/var/log/sirihub.log",
	}))
}
