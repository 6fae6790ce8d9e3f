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

/*
Package stats implements statistics collection and reporting.
It is used by the client to report internal statistics, such as number of
requests, replies and timeouts.
*/
package stats

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// JSONStats implements client.Stats interface
// This implementation reports JSON metrics via http interface
// This is a passive implementation. Only "Start" needs to be called
type JSONStats struct {
	// keep these aligned to 64-bit for sync/atomic
	requests     int64
	responses    int64
	timeouts     int64
	shortReplies int64
	discarded    int64
	bindErrors   int64
	sendErrors   int64
}

// toMap converts struct to a map
func (j *JSONStats) toMap() (export map[string]int64) {
	export = make(map[string]int64)

	export["requests"] = atomic.LoadInt64(&j.requests)
	export["responses"] = atomic.LoadInt64(&j.responses)
	export["timeouts"] = atomic.LoadInt64(&j.timeouts)
	export["shortreplies"] = atomic.LoadInt64(&j.shortReplies)
	export["discarded"] = atomic.LoadInt64(&j.discarded)
	export["binderrors"] = atomic.LoadInt64(&j.bindErrors)
	export["senderrors"] = atomic.LoadInt64(&j.sendErrors)

	return export
}

// handleRequest is a handler used for all http monitoring requests
func (j *JSONStats) handleRequest(w http.ResponseWriter, _ *http.Request) {
	js, err := json.Marshal(j.toMap())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err = w.Write(js); err != nil {
		log.Errorf("Failed to reply: %v", err)
	}
}

// Start runs http server reporting JSON metrics. It blocks.
func (j *JSONStats) Start(port int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", j.handleRequest)
	addr := fmt.Sprintf(":%d", port)
	log.Debugf("Starting http json server on %s", addr)
	err := http.ListenAndServe(addr, mux)
	if err != nil {
		log.Errorf("Failed to start listener: %v", err)
	}
}

// IncRequests atomically add 1 to the counter
func (j *JSONStats) IncRequests() {
	atomic.AddInt64(&j.requests, 1)
}

// IncResponses atomically add 1 to the counter
func (j *JSONStats) IncResponses() {
	atomic.AddInt64(&j.responses, 1)
}

// IncTimeouts atomically add 1 to the counter
func (j *JSONStats) IncTimeouts() {
	atomic.AddInt64(&j.timeouts, 1)
}

// IncShortReplies atomically add 1 to the counter
func (j *JSONStats) IncShortReplies() {
	atomic.AddInt64(&j.shortReplies, 1)
}

// IncDiscarded atomically add 1 to the counter
func (j *JSONStats) IncDiscarded() {
	atomic.AddInt64(&j.discarded, 1)
}

// IncBindErrors atomically add 1 to the counter
func (j *JSONStats) IncBindErrors() {
	atomic.AddInt64(&j.bindErrors, 1)
}

// IncSendErrors atomically add 1 to the counter
func (j *JSONStats) IncSendErrors() {
	atomic.AddInt64(&j.sendErrors, 1)
}
