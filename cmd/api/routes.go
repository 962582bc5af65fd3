package main

import (
	"net/http"
	"time"

	"crm-telephony/internal/auth"
	"crm-telephony/internal/httpapi"
	"crm-telephony/internal/rbac"
	"crm-telephony/internal/recording"
	"crm-telephony/internal/telephony"
	"crm-telephony/pkg/logger"
	"crm-telephony/pkg/utils"

	"github.com/gin-gonic/gin"
)

// newRouter wires HTTP routes to handlers. Keep this file free of business logic.
func newRouter(d *deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(d.log))
	r.Use(d.metrics.Middleware())

	r.GET("/healthz", func(c *gin.Context) {
		if d.db != nil {
			if err := utils.HealthCheck(c.Request.Context(), d.db, 2*time.Second); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", d.metrics.Handler())

	// Provider webhooks (public).
	// NOTE: provider signature validation should sit in front of these in production.
	wh := telephony.WebhookHandlers{
		Status:        telephony.StatusMachine{Store: d.store, Publisher: d.pub},
		Finalizer:     telephony.Finalizer{Store: d.store, Publisher: d.pub},
		Metrics:       d.metrics,
		PublicBaseURL: d.cfg.App.PublicBaseURL,
		RingTimeout:   d.cfg.Bridge.RingTimeout,
		RecordCalls:   d.cfg.Bridge.Record,
	}
	r.POST(telephony.PathBridge, wh.HandleBridge)
	r.POST(telephony.PathStatus, wh.HandleStatus)
	r.GET(telephony.PathDialComplete, wh.HandleDialComplete)
	r.POST(telephony.PathDialComplete, wh.HandleDialComplete)

	h := httpapi.Handlers{
		Initiator: telephony.Initiator{
			Provider: d.provider,
			Store:    d.store,
			Config: telephony.InitiatorConfig{
				PublicBaseURL:     d.cfg.App.PublicBaseURL,
				DefaultFrom:       d.cfg.Bridge.DefaultFrom,
				DefaultAgentPhone: d.cfg.Bridge.DefaultAgentPhone,
				RingTimeout:       d.cfg.Bridge.RingTimeout,
				MachineDetection:  d.cfg.Bridge.MachineDetectionParam(),
			},
		},
		Terminator: telephony.Terminator{Provider: d.provider, Metrics: d.metrics},
		Analysis:   d.analysis,
		Store:      d.store,
		Audit:      d.audit,
	}
	rec := recording.Handler{Proxy: d.recording, Metrics: d.metrics}

	agents := rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleManager)
	api := r.Group("/", auth.RequireAccessToken(d.authMgr))
	{
		api.POST("/calls", agents, h.StartCall)
		api.POST("/calls/hangup", agents, h.Hangup)
		api.POST("/calls/analysis", agents, h.RequestAnalysis)
		api.GET("/calls/:id", agents, h.GetCall)
		api.POST("/recording/token", agents, auth.IssueMediaToken(d.authMgr))
	}
	// Browsers load recordings via <audio src>, which cannot send headers.
	r.GET("/recording", auth.RequireMediaToken(d.authMgr), agents, rec.Serve)
	return r
}
