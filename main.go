package main

import (
	"errors"

	"github.com/tonimelisma/authpipe/internal/api"
	"github.com/tonimelisma/authpipe/internal/session"
)

// Process exit codes.
const (
	exitFailure   = 1
	exitLoggedOut = 3
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}

// exitCode maps errors that mean "log in again" to a distinct status so
// scripts can tell them apart from ordinary failures.
func exitCode(err error) int {
	switch {
	case errors.Is(err, api.ErrNotLoggedIn), errors.Is(err, session.ErrLoggedOut):
		return exitLoggedOut
	case api.KindOf(err).Terminal():
		return exitLoggedOut
	default:
		return exitFailure
	}
}
