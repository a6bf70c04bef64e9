// Copyright 2024-2025 The beacon Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apis

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/launchboard/beacon/common"
	"github.com/launchboard/beacon/fanout"
)

// APIRestCampaignEventsHandler REST handler for the campaign event streams
type APIRestCampaignEventsHandler struct {
	goutils.RestAPIHandler
	distributor fanout.CampaignFanout
	keepAlive   time.Duration
	baseContext context.Context
	wg          *sync.WaitGroup
}

// GetAPIRestCampaignEventsHandler define APIRestCampaignEventsHandler
func GetAPIRestCampaignEventsHandler(
	baseContext context.Context,
	distributor fanout.CampaignFanout,
	httpConfig *common.HTTPConfig,
	keepAlive time.Duration,
	wg *sync.WaitGroup,
) (APIRestCampaignEventsHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "campaign-events",
	}
	return APIRestCampaignEventsHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range httpConfig.Logging.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		},
		distributor: distributor,
		keepAlive:   keepAlive,
		baseContext: baseContext,
		wg:          wg,
	}, nil
}

// Write logging support
func (h APIRestCampaignEventsHandler) Write(p []byte) (n int, err error) {
	log.WithFields(h.LogTags).Infof("%s", p)
	return len(p), nil
}

// =======================================================================
// Event stream

// -----------------------------------------------------------------------

// streamSender writes framed events onto one client's response stream.
// Writes are serialized so broadcasts and keepalives never interleave
// mid-frame.
type streamSender struct {
	w       http.ResponseWriter
	flusher http.Flusher
	lock    *sync.Mutex
}

// SendEvent write one framed event to the client
func (s *streamSender) SendEvent(event fanout.Event) error {
	frame, err := event.Frame()
	if err != nil {
		return err
	}
	return s.write(frame)
}

// SendHeartbeat write one comment-only keepalive frame to the client
func (s *streamSender) SendHeartbeat() error {
	return s.write(fanout.HeartbeatFrame())
}

func (s *streamSender) write(frame []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// -----------------------------------------------------------------------

// ServeEvents godoc
// @Summary Open a campaign event stream
// @Description Open a long lived server sent event stream carrying change
// events for one campaign. The stream starts with a "connected" event, is
// kept alive with comment frames, and closes on client disconnect or
// server shutdown.
// @tags Events
// @Produce text/event-stream
// @Param campaignId path string true "Campaign to subscribe to"
// @Success 200 {string} string "event stream"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/events/{campaignId} [get]
func (h APIRestCampaignEventsHandler) ServeEvents(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())

	restError := func(respCode int, msg string, detail string) {
		respBody := h.GetStdRESTErrorMsg(r.Context(), respCode, msg, detail)
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}

	vars := mux.Vars(r)
	campaignID, ok := vars["campaignId"]
	if !ok || campaignID == "" {
		msg := "No campaign ID provided"
		log.WithFields(localLogTags).Error(msg)
		restError(http.StatusBadRequest, msg, msg)
		return
	}

	// Create stream flusher
	writeFlusher, ok := w.(http.Flusher)
	if !ok {
		msg := "Streaming not supported"
		log.WithFields(localLogTags).Error(msg)
		restError(http.StatusInternalServerError, msg, msg)
		return
	}

	connectionID := uuid.NewString()
	logTags := log.Fields{}
	for tag, value := range localLogTags {
		logTags[tag] = value
	}
	logTags["campaign"] = campaignID
	logTags["connection"] = connectionID

	// Send support headers for SSE first. Intermediary buffering must stay
	// off for a long lived unbuffered stream.
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	writeFlusher.Flush()

	sender := &streamSender{w: w, flusher: writeFlusher, lock: &sync.Mutex{}}

	// Confirm liveness before the first real event arrives
	if err := sender.SendEvent(fanout.NewConnectedEvent(connectionID, campaignID)); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to send connected event")
		return
	}

	h.distributor.RegisterConnection(r.Context(), fanout.Connection{
		ID:         connectionID,
		CampaignID: campaignID,
		Sender:     sender,
	})

	// Periodic keepalive defeats idle-connection timeouts in proxies. The
	// timer stops itself once a keepalive write fails; cleanup then comes
	// from the transport close below.
	runtimeCtxt, cancel := context.WithCancel(r.Context())
	defer cancel()
	keepAliveTimer, err := common.GetIntervalTimerInstance(
		fmt.Sprintf("keepalive-%s", connectionID), runtimeCtxt, h.wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define keepalive timer")
		h.distributor.UnregisterConnection(h.baseContext, campaignID, connectionID)
		return
	}
	if err := keepAliveTimer.Start(h.keepAlive, sender.SendHeartbeat); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start keepalive timer")
		h.distributor.UnregisterConnection(h.baseContext, campaignID, connectionID)
		return
	}

	log.WithFields(logTags).Info("Event stream established")

	select {
	case <-h.baseContext.Done():
		// Server stopping
		log.WithFields(logTags).Info("Terminating event stream on server stop")
	case <-r.Context().Done():
		// Client disconnected
		log.WithFields(logTags).Info("Terminating event stream on client disconnect")
	}

	if err := keepAliveTimer.Stop(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to stop keepalive timer")
	}
	h.distributor.UnregisterConnection(h.baseContext, campaignID, connectionID)
}

// ServeEventsHandler Wrapper around ServeEvents
func (h APIRestCampaignEventsHandler) ServeEventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ServeEvents(w, r)
	}
}

// =======================================================================
// Subscriber stats

// -----------------------------------------------------------------------

// APIRestRespSubscriberStats per-campaign subscriber counts
type APIRestRespSubscriberStats struct {
	goutils.RestAPIBaseResponse
	// Campaigns maps campaign ID to its live connection count
	Campaigns map[string]int `json:"campaigns"`
	// Total is the connection count across all campaigns
	Total int `json:"total"`
}

// GetSubscriberStats godoc
// @Summary Fetch subscriber stats
// @Description Report the number of open event streams per campaign
// @tags Events
// @Produce json
// @Success 200 {object} APIRestRespSubscriberStats "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/stats [get]
func (h APIRestCampaignEventsHandler) GetSubscriberStats(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())

	counts := h.distributor.SubscriberCounts()
	total := 0
	for _, count := range counts {
		total += count
	}
	respBody := APIRestRespSubscriberStats{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Campaigns: counts,
		Total:     total,
	}
	if err := h.WriteRESTResponse(w, http.StatusOK, respBody, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// GetSubscriberStatsHandler Wrapper around GetSubscriberStats
func (h APIRestCampaignEventsHandler) GetSubscriberStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.GetSubscriberStats(w, r)
	}
}

// =======================================================================
// Health Checks

// -----------------------------------------------------------------------

// APIRestRespHealth liveness probe response
type APIRestRespHealth struct {
	// Status is "ok" while the process serves
	Status string `json:"status"`
	// Timestamp is the server time of the probe
	Timestamp time.Time `json:"timestamp"`
}

// Health godoc
// @Summary For events REST API liveness check
// @Description Will return success to indicate events REST API module is live
// @tags Events
// @Produce json
// @Success 200 {object} APIRestRespHealth "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/health [get]
func (h APIRestCampaignEventsHandler) Health(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	respBody := APIRestRespHealth{Status: "ok", Timestamp: time.Now().UTC()}
	if err := h.WriteRESTResponse(w, http.StatusOK, respBody, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// HealthHandler Wrapper around Health
func (h APIRestCampaignEventsHandler) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Health(w, r)
	}
}
