//go:build windows

package cmd

import "os"

// gracefulSignals returns the OS signals that cancel the running command.
// On Windows: only os.Interrupt (Ctrl+C) is reliably delivered.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
