// Package server wires the pipeline services into one echo process:
// the core processing API, the learning service, the response
// generator and the ego service, each under its own route group.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/DmitriStark/MyAI/config"
	"github.com/DmitriStark/MyAI/internal/client"
	"github.com/DmitriStark/MyAI/internal/ego"
	"github.com/DmitriStark/MyAI/internal/learning"
	"github.com/DmitriStark/MyAI/internal/orchestrator"
	"github.com/DmitriStark/MyAI/internal/response"
	"github.com/DmitriStark/MyAI/internal/store"
)

func Run(cfgPath, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		var upstream *client.UpstreamError
		if errors.As(err, &upstream) {
			code = http.StatusBadGateway
			msg = upstream.Error()
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	cfg := config.LoadConfig(cfgPath)
	if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
		log.Printf("migrations: %v", err)
	}

	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return err
	}

	// redis is optional: without it the sweeps run unlocked, which is
	// fine for a single replica
	var rdb *redis.Client
	if cfg.Storage.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s:%s): %w", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, err)
		}
	}

	if addr == "" {
		addr = cfg.General.Listen
	}
	if addr != "" && addr[0] != ':' {
		addr = ":" + addr
	}
	if addr == "" {
		addr = ":8080"
	}
	self := "http://127.0.0.1" + addr

	manager := learning.NewManager(st, rdb)
	if cfg.Pipeline.RetrySweepInterval > 0 {
		manager.RetryInterval = cfg.Pipeline.RetrySweepInterval
	}
	if cfg.Pipeline.RetryWindow > 0 {
		manager.RetryWindow = cfg.Pipeline.RetryWindow
	}
	if cfg.Pipeline.RetryBatch > 0 {
		manager.RetryBatch = cfg.Pipeline.RetryBatch
	}

	generator := response.NewGenerator(st)
	engine := ego.NewEngine(st, rdb)

	orch := orchestrator.New(st, rdb,
		client.NewLearning(serviceURL(cfg.Services.LearningURL, self)),
		client.NewResponse(serviceURL(cfg.Services.ResponseURL, self)),
		client.NewEgo(serviceURL(cfg.Services.EgoURL, self)))
	if cfg.Pipeline.StallSweepInterval > 0 {
		orch.StallInterval = cfg.Pipeline.StallSweepInterval
	}
	if cfg.Pipeline.StallThreshold > 0 {
		orch.StallThreshold = cfg.Pipeline.StallThreshold
	}
	if cfg.Pipeline.IntrospectionInterval > 0 {
		orch.IntrospectionInterval = cfg.Pipeline.IntrospectionInterval
	}
	if cfg.Pipeline.IntrospectionWindow > 0 {
		orch.IntrospectionWindow = cfg.Pipeline.IntrospectionWindow
	}

	api := e.Group("/api")

	ph := &ProcessHandler{Store: st, Orch: orch}
	ph.Register(api.Group("/process"))

	lh := &LearnHandler{Store: st, Manager: manager}
	lh.Register(api.Group("/learn"))

	gh := &GenerateHandler{Store: st, Generator: generator}
	gh.Register(api.Group("/generate"))

	eh := &EgoHandler{Store: st, Engine: engine}
	eh.Register(api.Group("/ego"))

	manager.Start()
	orch.Start()
	ego.NewScheduler(engine, cfg.Pipeline.ConsolidationSchedule).Start()

	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

func serviceURL(configured, self string) string {
	if configured != "" {
		return configured
	}
	return self
}
