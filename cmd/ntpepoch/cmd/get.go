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
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebook/ntpclient/ntp/client"
	"github.com/facebook/ntpclient/ntp/protocol"
)

// supported output formats
const (
	formatUnix    = "unix"
	formatRFC3339 = "rfc3339"
)

var (
	getRetriesFlag uint64
	getFormatFlag  string
)

func init() {
	RootCmd.AddCommand(getCmd)
	getCmd.Flags().Uint64VarP(&getRetriesFlag, "retries", "r", 0, "how many times to retry after timeout or short reply")
	getCmd.Flags().StringVarP(&getFormatFlag, "format", "f", formatUnix, fmt.Sprintf("output format. Can be: %s, %s", formatUnix, formatRFC3339))
}

// retryable reports whether another exchange may succeed where this one failed
func retryable(err error) bool {
	return errors.Is(err, client.ErrTimeout) || errors.Is(err, protocol.ErrShortPacket)
}

// epochWithRetries repeats single exchanges until one succeeds or b gives up.
// Bind and send failures are not retried.
func epochWithRetries(ctx context.Context, c *client.Client, b backoff.BackOff) (uint32, error) {
	var epoch uint32
	op := func() error {
		var err error
		epoch, err = c.Epoch(ctx)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Warningf("%v, retrying in %v", err, next)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return 0, err
	}
	return epoch, nil
}

func formatEpoch(epoch uint32, format string) (string, error) {
	switch format {
	case formatUnix:
		return strconv.FormatUint(uint64(epoch), 10), nil
	case formatRFC3339:
		return time.Unix(int64(epoch), 0).UTC().Format(time.RFC3339), nil
	}
	return "", fmt.Errorf("unknown format %q", format)
}

func getRun(cfg *client.Config, retries uint64, format string) error {
	c := client.NewUDP(cfg)
	defer c.Close()

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries)
	epoch, err := epochWithRetries(context.Background(), c, b)
	if err != nil {
		return fmt.Errorf("getting epoch from %s: %w", cfg.Server, err)
	}
	out, err := formatEpoch(epoch, format)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Print Unix epoch reported by NTP server",
	Long:  "Print Unix epoch reported by NTP server. Sends a single request unless retries are requested.",
	Run: func(c *cobra.Command, args []string) {
		ConfigureVerbosity()
		if _, err := formatEpoch(0, getFormatFlag); err != nil {
			log.Fatal(err)
		}
		cfg, err := prepareConfig(c.Flags())
		if err != nil {
			log.Fatal(err)
		}
		if err := getRun(cfg, getRetriesFlag, getFormatFlag); err != nil {
			log.Fatal(err)
		}
	},
}
