// Package api wires the HTTP router and server around the job handlers.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/sawmill-video/sawmill/config"
	"github.com/sawmill-video/sawmill/handlers"
	"github.com/sawmill-video/sawmill/jobs"
	"github.com/sawmill-video/sawmill/log"
	"github.com/sawmill-video/sawmill/middleware"
	"github.com/sawmill-video/sawmill/pipeline"
)

func ListenAndServe(ctx context.Context, addr, apiToken string, store jobs.Store, manager *pipeline.JobManager) error {
	router := NewSawmillAPIRouter(store, manager, apiToken)
	server := http.Server{Addr: addr, Handler: router}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoJobID(
		"Starting Sawmill API!",
		"version", config.Version,
		"host", addr,
	)

	var err error
	go func() {
		err = server.ListenAndServe()
		cancel()
	}()

	<-ctx.Done()
	if err != nil {
		return err
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func NewSawmillAPIRouter(store jobs.Store, manager *pipeline.JobManager, apiToken string) *httprouter.Router {
	router := httprouter.New()
	withLogging := middleware.LogRequest(config.Logger)
	withAuth := middleware.IsAuthorized

	jobsHandlers := &handlers.JobsHandlersCollection{Store: store, Manager: manager}

	// Simple endpoint for healthchecks
	router.GET("/ok", withLogging(jobsHandlers.Ok()))

	// Public transcoding API
	router.POST("/api/jobs", withLogging(withAuth(apiToken, jobsHandlers.CreateJob())))
	router.GET("/api/jobs", withLogging(withAuth(apiToken, jobsHandlers.ListJobs())))
	router.GET("/api/jobs/:id", withLogging(withAuth(apiToken, jobsHandlers.GetJob())))
	router.POST("/api/jobs/cancel", withLogging(withAuth(apiToken, jobsHandlers.CancelJob())))
	router.POST("/api/jobs/restart", withLogging(withAuth(apiToken, jobsHandlers.RestartJob())))

	return router
}
