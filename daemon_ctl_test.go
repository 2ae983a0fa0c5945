//go:build linux

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaemonControl_NoServeProcess(t *testing.T) {
	setupCLI(t, "http://127.0.0.1:1")

	for _, name := range []string{"pause", "resume", "reload"} {
		t.Run(name, func(t *testing.T) {
			_, err := runCLI(t, "", name)
			require.Error(t, err)
			assert.ErrorIs(t, err, errNoDaemon)
		})
	}
}

func TestDaemonControl_RejectsArgs(t *testing.T) {
	setupCLI(t, "http://127.0.0.1:1")

	_, err := runCLI(t, "", "pause", "extra")
	assert.Error(t, err)
}
