// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Command drivesync-demo wires every synchronization-core component
// (C1-C12) together over an in-memory driveapi backend and drives a
// sample scenario end to end: create a folder, draft and upload a file,
// rename it, list children, and trash it, logging each step and the
// C7 change notifications it produces along the way.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile  string
	logLevel string
	clientID string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "drivesync-demo",
		Short: "Runs a scripted scenario against an in-memory synchronization-core backend",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: none)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&clientID, "client-id", "demo-client", "client identity used for own-draft conflict resolution")

	cobra.OnInitialize(func() { initConfig(root) })

	root.AddCommand(newRunCmd())
	return root
}

func initConfig(root *cobra.Command) {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("drivesync-demo")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("DRIVESYNC_DEMO")
	v.AutomaticEnv()

	_ = v.BindPFlag("log-level", root.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("client-id", root.PersistentFlags().Lookup("client-id"))

	// A missing config file is not an error: the demo runs fine on flag
	// defaults alone.
	if err := v.ReadInConfig(); err == nil {
		if v.IsSet("log-level") {
			logLevel = v.GetString("log-level")
		}
		if v.IsSet("client-id") {
			clientID = v.GetString("client-id")
		}
	}
}
