// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey-vault.
//
// go-passkey-vault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package cli implements the passkey-vault command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	// configFile is the path to the YAML configuration file
	configFile string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "passkey-vault",
	Short: "WebAuthn PRF encrypted blob vault",
	Long: `passkey-vault stores a single encrypted blob per user, encrypted
with a key derived from the WebAuthn PRF extension. The server never
sees a long-term secret: the encryption key exists only while a
request (or session) is in flight.

The vault exposes a REST API for WebAuthn registration and
authentication ceremonies and for storing, retrieving and deleting
the encrypted blob.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file (default is built-in development defaults)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}
