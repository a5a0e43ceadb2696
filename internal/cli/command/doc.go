// Package command provides CLI command definitions for
// channelmesh-probe.
//
// It uses urfave/cli/v2 for command parsing. The probe runs the full
// engine against the in-memory cluster harness, so every command is
// self-contained: seed flags stand in for the other clients a real
// deployment would have.
package command
