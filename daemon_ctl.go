package main

import (
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/authpipe/internal/config"
)

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Move the running serve process to the background",
		Long: `Send SIGUSR1 to the running serve process. In the background the
proactive refresh timer is stopped; calls still refresh reactively.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return notifyDaemon(syscall.SIGUSR1, "moved to the background")
		},
	}
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Bring the running serve process back to the foreground",
		Long: `Send SIGUSR2 to the running serve process. It refreshes at once when
the access token is close to expiry or the refresh interval has elapsed,
then re-arms the proactive timer.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return notifyDaemon(syscall.SIGUSR2, "brought to the foreground")
		},
	}
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask the running serve process to re-read its config file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return notifyDaemon(syscall.SIGHUP, "asked to reload its config")
		},
	}
}

// notifyDaemon signals the serve process named by the PID file.
func notifyDaemon(sig syscall.Signal, what string) error {
	info, err := signalDaemon(config.PIDFilePath(), sig)
	if err != nil {
		return err
	}

	statusf("serve (PID %d, %s) %s\n", info.PID, info.Listen, what)

	return nil
}
