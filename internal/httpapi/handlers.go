package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"crm-telephony/internal/apperr"
	"crm-telephony/internal/audit"
	"crm-telephony/internal/auth"
	"crm-telephony/internal/calls"
	"crm-telephony/internal/telephony"
	"crm-telephony/pkg/logger"

	"github.com/gin-gonic/gin"
)

type CallInitiator interface {
	Initiate(ctx context.Context, req telephony.BridgeRequest) (string, error)
}

type CallTerminator interface {
	Terminate(ctx context.Context, callIDs []string) (telephony.HangupResult, error)
}

type AnalysisRequester interface {
	Request(ctx context.Context, callID, recordingRef string) (string, error)
}

// Handlers groups the client-facing call endpoints.
// Keep these thin: bind input, call the orchestration component, map errors.
type Handlers struct {
	Initiator  CallInitiator
	Terminator CallTerminator
	Analysis   AnalysisRequester
	Store      calls.Store
	Audit      *audit.Service
}

type hangupRequest struct {
	CallID  string   `json:"callId"`
	CallIDs []string `json:"callIds"`
}

type analysisRequest struct {
	CallID             string `json:"callId"`
	RecordingReference string `json:"recordingReference"`
}

// StartCall handles POST /calls.
func (h Handlers) StartCall(c *gin.Context) {
	var req telephony.BridgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Validation("", "invalid json body"))
		return
	}
	callID, err := h.Initiator.Initiate(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	h.Audit.Record(c.Request.Context(), actorOf(c), audit.EventCallInitiated, callID, "bridge call placed", map[string]string{
		"to":           req.To,
		"linkedEntity": req.LinkedEntity,
	})
	c.JSON(http.StatusOK, gin.H{"callId": callID})
}

// Hangup handles POST /calls/hangup. Partial failures are reported in the body with 200.
func (h Handlers) Hangup(c *gin.Context) {
	var req hangupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Validation("", "invalid json body"))
		return
	}
	ids := req.CallIDs
	if strings.TrimSpace(req.CallID) != "" {
		ids = append([]string{req.CallID}, ids...)
	}

	res, err := h.Terminator.Terminate(c.Request.Context(), ids)
	if err != nil {
		writeError(c, err)
		return
	}
	primary := ""
	if len(res.Results) > 0 {
		primary = res.Results[0].CallID
	}
	h.Audit.Record(c.Request.Context(), actorOf(c), audit.EventHangupRequested, primary, "hangup requested", map[string]any{
		"callIds":    ids,
		"terminated": res.Terminated,
		"errors":     len(res.Errors),
	})
	c.JSON(http.StatusOK, res)
}

// RequestAnalysis handles POST /calls/analysis. Progress is read back through GET /calls/:id.
func (h Handlers) RequestAnalysis(c *gin.Context) {
	var req analysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Validation("", "invalid json body"))
		return
	}
	jobRef, err := h.Analysis.Request(c.Request.Context(), req.CallID, req.RecordingReference)
	if err != nil {
		writeError(c, err)
		return
	}
	h.Audit.Record(c.Request.Context(), actorOf(c), audit.EventAnalysisRequested, req.CallID, "analysis requested", map[string]string{
		"analysisJobReference": jobRef,
	})
	c.JSON(http.StatusOK, gin.H{"ok": true, "analysisJobReference": jobRef})
}

// GetCall handles GET /calls/:id.
func (h Handlers) GetCall(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	rec, err := h.Store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			err = apperr.NotFound("call", id)
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	code := apperr.CodeOf(err)
	msg := err.Error()
	if code == apperr.CodeInternal {
		msg = "internal error"
	}
	if status >= http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "code", code, "err", err)
	} else {
		logger.FromGin(c).Debug("request rejected", "code", code, "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": msg})
}

func actorOf(c *gin.Context) audit.Actor {
	id := auth.IdentityFrom(c.Request.Context())
	return audit.Actor{UserID: id.UserID, OrgID: id.OrgID, Role: id.Role, IP: c.ClientIP()}
}
