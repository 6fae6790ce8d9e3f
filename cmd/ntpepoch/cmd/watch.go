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
	"math"
	"os"
	"os/signal"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/eclesh/welford"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/facebook/ntpclient/ntp/client"
	"github.com/facebook/ntpclient/ntp/stats"
)

// supported stats exporters
const (
	statsJSON       = "json"
	statsPrometheus = "prometheus"
)

var (
	watchIntervalFlag       time.Duration
	watchCountFlag          int
	watchStatsFlag          string
	watchMonitoringPortFlag int
	watchNotifyFlag         bool
	watchLogLevelFlag       string
)

func init() {
	RootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVarP(&watchIntervalFlag, "interval", "i", time.Second, "interval between requests")
	watchCmd.Flags().IntVarP(&watchCountFlag, "count", "n", 0, "stop after that many requests, 0 means run until interrupted")
	watchCmd.Flags().StringVar(&watchStatsFlag, "stats", "", fmt.Sprintf("stats exporter. Can be: %s, %s. Empty disables export", statsJSON, statsPrometheus))
	watchCmd.Flags().IntVar(&watchMonitoringPortFlag, "monitoringport", 4269, "port to run stats exporter on")
	watchCmd.Flags().StringVar(&watchLogLevelFlag, "loglevel", "", "log level for the long running loop. Can be: debug, info, warning, error. Empty keeps --verbose setting")
	watchCmd.Flags().BoolVar(&watchNotifyFlag, "notify", false, "send READY notification to systemd once the first request is done")
}

// configureLogLevel overrides level set by ConfigureVerbosity
func configureLogLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("unrecognized log level: %w", err)
	}
	log.SetLevel(lvl)
	return nil
}

// statsServer is a stats reporter which can export itself over HTTP
type statsServer interface {
	client.Stats
	Start(monitoringport int)
}

func newStatsServer(kind string) (statsServer, error) {
	switch kind {
	case statsJSON:
		return &stats.JSONStats{}, nil
	case statsPrometheus:
		return stats.NewPrometheusStats(), nil
	}
	return nil, fmt.Errorf("unknown stats exporter %q", kind)
}

// watchSummary tracks skew between server seconds and local monotonic time over consecutive successful replies
type watchSummary struct {
	skew     *welford.Stats
	samples  int
	failures int
	min      float64
	max      float64

	prevEpoch uint32
	prevTime  time.Time
}

func newWatchSummary() *watchSummary {
	return &watchSummary{
		skew: welford.New(),
		min:  math.Inf(1),
		max:  math.Inf(-1),
	}
}

// add records a single result. epoch 0 is a failed request.
func (s *watchSummary) add(epoch uint32, at time.Time) {
	if epoch == 0 {
		s.failures++
		return
	}
	if !s.prevTime.IsZero() {
		skew := float64(int64(epoch)-int64(s.prevEpoch)) - at.Sub(s.prevTime).Seconds()
		s.skew.Add(skew)
		s.min = math.Min(s.min, skew)
		s.max = math.Max(s.max, skew)
		s.samples++
	}
	s.prevEpoch = epoch
	s.prevTime = at
}

func (s *watchSummary) render(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"samples", "failures", "mean skew (s)", "stddev (s)", "min (s)", "max (s)"})
	row := []string{fmt.Sprintf("%d", s.samples), fmt.Sprintf("%d", s.failures), "", "", "", ""}
	if s.samples > 0 {
		row = []string{
			fmt.Sprintf("%d", s.samples),
			fmt.Sprintf("%d", s.failures),
			fmt.Sprintf("%.3f", s.skew.Mean()),
			fmt.Sprintf("%.3f", s.skew.Stddev()),
			fmt.Sprintf("%.3f", s.min),
			fmt.Sprintf("%.3f", s.max),
		}
	}
	table.Append(row)
	table.Render()
}

func watchRun(ctx context.Context, c *client.Client, interval time.Duration, count int, notify bool) *watchSummary {
	summary := newWatchSummary()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; count == 0 || i < count; i++ {
		epoch := c.GetEpoch()
		summary.add(epoch, time.Now())
		if epoch == 0 {
			log.Warningf("%s no epoch from %s", failString, c.Config().Server)
		} else {
			log.Infof("%s epoch %d from %s", okString, epoch, c.Config().Server)
		}
		if notify && i == 0 {
			if _, err := daemon.SdNotify(false, "READY=1"); err != nil {
				log.Errorf("failed to notify systemd: %v", err)
			}
		}
		if count != 0 && i == count-1 {
			break
		}
		select {
		case <-ctx.Done():
			return summary
		case <-ticker.C:
		}
	}
	return summary
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Periodically query NTP server and report epoch",
	Long:  "Periodically query NTP server and report epoch. Prints skew summary between server and local clock on exit.",
	Run: func(c *cobra.Command, args []string) {
		ConfigureVerbosity()
		if err := configureLogLevel(watchLogLevelFlag); err != nil {
			log.Fatal(err)
		}
		if watchIntervalFlag <= 0 {
			log.Fatal("interval must be greater than zero")
		}
		cfg, err := prepareConfig(c.Flags())
		if err != nil {
			log.Fatal(err)
		}
		cl := client.NewUDP(cfg)
		defer cl.Close()

		if watchStatsFlag != "" {
			st, err := newStatsServer(watchStatsFlag)
			if err != nil {
				log.Fatal(err)
			}
			go st.Start(watchMonitoringPortFlag)
			cl.SetStats(st)
		}

		ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
		defer stop()

		summary := watchRun(ctx, cl, watchIntervalFlag, watchCountFlag, watchNotifyFlag)
		summary.render(os.Stdout)
	},
}
