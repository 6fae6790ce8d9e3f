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
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/beevik/ntp"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/facebook/ntpclient/dscp"
	"github.com/facebook/ntpclient/ntp/client"
)

var crosscheckToleranceFlag time.Duration

func init() {
	RootCmd.AddCommand(crosscheckCmd)
	crosscheckCmd.Flags().DurationVar(&crosscheckToleranceFlag, "tolerance", 2*time.Second, "max allowed difference between epoch and reference time")
}

// crosscheckResult holds epoch returned by our client and transmit time returned by reference client
type crosscheckResult struct {
	server    string
	epoch     uint32
	reference time.Time
}

// diff returns how far epoch is from the reference transmit time. Epoch has no fraction, so it is compared to the truncated reference.
func (r *crosscheckResult) diff() time.Duration {
	return time.Unix(int64(r.epoch), 0).Sub(r.reference.Truncate(time.Second))
}

func (r *crosscheckResult) ok(tolerance time.Duration) bool {
	d := r.diff()
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}

func (r *crosscheckResult) render(w io.Writer, tolerance time.Duration) {
	status := okString
	if !r.ok(tolerance) {
		status = failString
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"server", "epoch", "reference", "diff", "status"})
	table.Append([]string{
		r.server,
		fmt.Sprintf("%d", r.epoch),
		r.reference.UTC().Format(time.RFC3339Nano),
		r.diff().String(),
		status,
	})
	table.Render()
}

// referenceDialer opens UDP connections for the reference client, marked with the same DSCP as our requests
func referenceDialer(dscpValue int) func(localAddress, remoteAddress string) (net.Conn, error) {
	return func(localAddress, remoteAddress string) (net.Conn, error) {
		raddr, err := net.ResolveUDPAddr("udp", remoteAddress)
		if err != nil {
			return nil, err
		}
		var laddr *net.UDPAddr
		if localAddress != "" {
			if laddr, err = net.ResolveUDPAddr("udp", net.JoinHostPort(localAddress, "0")); err != nil {
				return nil, err
			}
		}
		conn, err := net.DialUDP("udp", laddr, raddr)
		if err != nil {
			return nil, err
		}
		if dscpValue != 0 {
			if err := dscp.EnableConn(conn, dscpValue); err != nil {
				conn.Close()
				return nil, err
			}
		}
		return conn, nil
	}
}

// crosscheckRun queries the server with our client and with github.com/beevik/ntp at the same time
func crosscheckRun(ctx context.Context, c *client.Client) (*crosscheckResult, error) {
	cfg := c.Config()
	res := &crosscheckResult{server: cfg.Server}
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		epoch, err := c.Epoch(ctx)
		if err != nil {
			return fmt.Errorf("querying with ntpepoch client: %w", err)
		}
		res.epoch = epoch
		return nil
	})
	eg.Go(func() error {
		opts := ntp.QueryOptions{Timeout: cfg.Timeout, Dialer: referenceDialer(cfg.DSCP)}
		resp, err := ntp.QueryWithOptions(net.JoinHostPort(cfg.Server, strconv.Itoa(cfg.Port)), opts)
		if err != nil {
			return fmt.Errorf("querying with reference client: %w", err)
		}
		if err := resp.Validate(); err != nil {
			return fmt.Errorf("validating reference reply: %w", err)
		}
		log.Debugf("reference reply: stratum %d, offset %v, rtt %v", resp.Stratum, resp.ClockOffset, resp.RTT)
		res.reference = resp.Time
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

var crosscheckCmd = &cobra.Command{
	Use:   "crosscheck",
	Short: "Compare epoch with time from full featured NTP client",
	Long:  "Query the server with ntpepoch client and a full featured NTP client at the same time and compare results.",
	Run: func(c *cobra.Command, args []string) {
		ConfigureVerbosity()
		cfg, err := prepareConfig(c.Flags())
		if err != nil {
			log.Fatal(err)
		}
		cl := client.NewUDP(cfg)
		defer cl.Close()

		res, err := crosscheckRun(context.Background(), cl)
		if err != nil {
			log.Fatal(err)
		}
		res.render(os.Stdout, crosscheckToleranceFlag)
		if !res.ok(crosscheckToleranceFlag) {
			os.Exit(1)
		}
	},
}
