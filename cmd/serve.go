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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/launchboard/beacon/apis"
	"github.com/launchboard/beacon/changefeed"
	"github.com/launchboard/beacon/common"
	"github.com/launchboard/beacon/fanout"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RunEventsServer run the campaign events server
func RunEventsServer(
	runTimeContext context.Context,
	config *common.SystemConfig,
	instance string,
	source changefeed.ChangeSource,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "events",
		"instance":  instance,
	}

	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid config")
		return err
	}

	distributor, err := fanout.GetCampaignFanout(instance)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define campaign fanout")
		return err
	}

	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()

	feedListener, err := changefeed.GetChangeFeedListener(
		localCtxt,
		distributor,
		config.Feed.TaskTable,
		config.Feed.HistoryTable,
		time.Second*time.Duration(config.Feed.WatchdogInterval),
		wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define change feed listener")
		return err
	}
	if err := feedListener.StartWatchdog(); err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to start feed watchdog")
		return err
	}
	if err := source.StartFeed(wg, feedListener.HandleChange); err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to start change feed")
		return err
	}

	httpHandler, err := apis.GetAPIRestCampaignEventsHandler(
		localCtxt,
		distributor,
		&config.Events.HTTPSetting,
		time.Second*time.Duration(config.Events.KeepAliveInterval),
		wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define HTTP handler")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(router, config.Events.Endpoints.PathPrefix, nil)
	apiRouter := apis.RegisterPathPrefix(mainRouter, "/api", nil)

	// Event stream
	_ = apis.RegisterPathPrefix(
		apiRouter, "/events/{campaignId}", map[string]http.HandlerFunc{
			"get": httpHandler.ServeEventsHandler(),
		},
	)

	// Subscriber stats
	_ = apis.RegisterPathPrefix(apiRouter, "/stats", map[string]http.HandlerFunc{
		"get": httpHandler.GetSubscriberStatsHandler(),
	})

	// Health check
	_ = apis.RegisterPathPrefix(apiRouter, "/health", map[string]http.HandlerFunc{
		"get": httpHandler.HealthHandler(),
	})

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(httpHandler, next)
	})

	var rootHandler http.Handler = h2c.NewHandler(router, &http2.Server{})
	if len(config.Events.HTTPSetting.CORSAllowedOrigins) > 0 {
		rootHandler = handlers.CORS(
			handlers.AllowedOrigins(config.Events.HTTPSetting.CORSAllowedOrigins),
			handlers.AllowedMethods([]string{"GET"}),
		)(rootHandler)
	}

	serverListen := fmt.Sprintf(
		"%s:%d",
		config.Events.HTTPSetting.Server.ListenOn,
		config.Events.HTTPSetting.Server.Port,
	)
	httpSrv := &http.Server{
		Addr:        serverListen,
		ReadTimeout: time.Second * time.Duration(config.Events.HTTPSetting.Server.ReadTimeout),
		IdleTimeout: time.Second * time.Duration(config.Events.HTTPSetting.Server.IdleTimeout),
		// No write timeout. Event streams live until either side closes.
		Handler: rootHandler,
	}

	// Cancel runtime context on shutdown
	httpSrv.RegisterOnShutdown(lclCancel)

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runTimeContext.Done()

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	return nil
}
