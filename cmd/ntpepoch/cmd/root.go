/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/facebook/ntpclient/ntp/client"
)

// RootCmd is a main entry point. It's exported so ntpepoch could be easily extended without touching core functionality.
var RootCmd = &cobra.Command{
	Use:   "ntpepoch",
	Short: "Minimal NTP client reporting Unix epoch of a server",
}

// flags
var (
	rootVerboseFlag bool
	rootConfigFlag  string
	rootOverrides   client.Overrides
)

var okString = color.GreenString("[ OK ]")
var failString = color.RedString("[FAIL]")

func init() {
	RootCmd.PersistentFlags().BoolVarP(&rootVerboseFlag, "verbose", "v", false, "verbose output")
	RootCmd.PersistentFlags().StringVarP(&rootConfigFlag, "config", "c", "", "path to the yaml config")
	RootCmd.PersistentFlags().StringVarP(&rootOverrides.Server, "server", "S", client.DefaultServer, "NTP server to query")
	RootCmd.PersistentFlags().IntVarP(&rootOverrides.Port, "port", "p", client.DefaultPort, "NTP server port")
	RootCmd.PersistentFlags().IntVar(&rootOverrides.LocalPort, "localport", client.DefaultLocalPort, "local port to bind to, 0 picks a free one")
	RootCmd.PersistentFlags().DurationVarP(&rootOverrides.Timeout, "timeout", "t", client.DefaultTimeout, "how long to wait for a reply")
	RootCmd.PersistentFlags().DurationVar(&rootOverrides.PollInterval, "pollinterval", client.DefaultPollInterval, "pause between checks for a reply, 0 means busy polling")
	RootCmd.PersistentFlags().IntVar(&rootOverrides.DSCP, "dscp", 0, "DSCP for outgoing requests")
	RootCmd.PersistentFlags().BoolVar(&rootOverrides.VerifyOrigin, "verifyorigin", false, "send random transmit timestamp and drop replies which don't echo it")
}

// ConfigureVerbosity configures log verbosity based on parsed flags. Needs to be called by any subcommand.
func ConfigureVerbosity() {
	log.SetLevel(log.InfoLevel)
	if rootVerboseFlag {
		log.SetLevel(log.DebugLevel)
	}
}

// prepareConfig merges defaults, config file and flags explicitly set on the command line
func prepareConfig(flags *pflag.FlagSet) (*client.Config, error) {
	setFlags := make(map[string]bool)
	flags.Visit(func(f *pflag.Flag) {
		setFlags[f.Name] = true
	})
	return client.PrepareConfig(rootConfigFlag, &rootOverrides, setFlags)
}

// Execute is the main entry point for CLI interface
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
