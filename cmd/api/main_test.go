package main

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/routewise/routewise/internal/config"
)

func TestNewLogger_SetsGlobalLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	newLogger(config.LogConfig{Level: "warn"}, "routewise-api")
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	newLogger(config.LogConfig{Level: "shouting", Pretty: true}, "routewise-api")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
