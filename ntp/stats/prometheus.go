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

package stats

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const namespace = "ntpclient"

// PrometheusStats implements client.Stats interface
// and exports counters in Prometheus format on /metrics
type PrometheusStats struct {
	registry     *prometheus.Registry
	requests     prometheus.Counter
	responses    prometheus.Counter
	timeouts     prometheus.Counter
	shortReplies prometheus.Counter
	discarded    prometheus.Counter
	bindErrors   prometheus.Counter
	sendErrors   prometheus.Counter
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
}

// NewPrometheusStats creates PrometheusStats with its own registry
func NewPrometheusStats() *PrometheusStats {
	p := &PrometheusStats{
		registry:     prometheus.NewRegistry(),
		requests:     newCounter("requests_total", "Requests sent to the server"),
		responses:    newCounter("responses_total", "Replies decoded successfully"),
		timeouts:     newCounter("timeouts_total", "Exchanges without reply within timeout"),
		shortReplies: newCounter("short_replies_total", "Replies too short to carry transmit timestamp"),
		discarded:    newCounter("discarded_total", "Replies discarded because of origin timestamp mismatch"),
		bindErrors:   newCounter("bind_errors_total", "Failures to bind local port"),
		sendErrors:   newCounter("send_errors_total", "Failures to send request"),
	}
	p.registry.MustRegister(
		p.requests,
		p.responses,
		p.timeouts,
		p.shortReplies,
		p.discarded,
		p.bindErrors,
		p.sendErrors,
	)
	return p
}

// Handler returns http handler serving the registry
func (p *PrometheusStats) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Start runs http server serving /metrics. It blocks.
func (p *PrometheusStats) Start(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	addr := fmt.Sprintf(":%d", port)
	log.Debugf("Starting prometheus exporter on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("Failed to start listener: %v", err)
	}
}

// IncRequests add 1 to the counter
func (p *PrometheusStats) IncRequests() { p.requests.Inc() }

// IncResponses add 1 to the counter
func (p *PrometheusStats) IncResponses() { p.responses.Inc() }

// IncTimeouts add 1 to the counter
func (p *PrometheusStats) IncTimeouts() { p.timeouts.Inc() }

// IncShortReplies add 1 to the counter
func (p *PrometheusStats) IncShortReplies() { p.shortReplies.Inc() }

// IncDiscarded add 1 to the counter
func (p *PrometheusStats) IncDiscarded() { p.discarded.Inc() }

// IncBindErrors add 1 to the counter
func (p *PrometheusStats) IncBindErrors() { p.bindErrors.Inc() }

// IncSendErrors add 1 to the counter
func (p *PrometheusStats) IncSendErrors() { p.sendErrors.Inc() }
