package main

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yanun0323/logs"

	"tradecore/internal/core"
	"tradecore/internal/obs"
	"tradecore/internal/schema"
	"tradecore/pkg/exception"
)

type response struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func reply(ctx *gin.Context, status int, data any, err error) {
	res := response{Data: data}
	if err != nil {
		res.Error = err.Error()
	}
	ctx.JSON(status, res)
}

type killSwitchReq struct {
	Reason string `json:"reason" binding:"max=256"`
}

// control is the operator HTTP surface.
type control struct {
	core    *core.Core
	audit   core.Audit
	metrics *obs.Metrics
}

func newControl(c *core.Core, audit core.Audit, metrics *obs.Metrics) *control {
	return &control{core: c, audit: audit, metrics: metrics}
}

func (h *control) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())

	g.GET("/healthz", func(ctx *gin.Context) { ctx.String(http.StatusOK, "ok") })
	g.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	api := g.Group("/api/v1")
	{
		api.GET("/status", h.status())
		api.GET("/orders", h.orders())
		api.DELETE("/orders/:id", h.cancel())
		api.POST("/signals", h.submit())
		api.POST("/kill-switch", h.killSwitch())
		api.POST("/circuit-breaker/reset", h.reset())
		api.GET("/journal", h.journal())
	}
	return g
}

func (h *control) status() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		reply(ctx, http.StatusOK, h.core.Status(), nil)
	}
}

func (h *control) orders() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if h.audit.SQL != nil && ctx.Query("source") == "sql" {
			limit, _ := strconv.Atoi(ctx.Query("limit"))
			rows, err := h.audit.SQL.Orders(ctx, limit)
			if err != nil {
				reply(ctx, http.StatusInternalServerError, nil, err)
				return
			}
			reply(ctx, http.StatusOK, rows, nil)
			return
		}
		reply(ctx, http.StatusOK, h.core.Orders(), nil)
	}
}

func (h *control) cancel() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		err := h.core.Cancel(ctx, ctx.Param("id"))
		switch {
		case err == nil:
			reply(ctx, http.StatusAccepted, nil, nil)
		case stderrors.Is(err, exception.ErrUnknownOrder):
			reply(ctx, http.StatusNotFound, nil, err)
		case stderrors.Is(err, exception.ErrOrderTerminal):
			reply(ctx, http.StatusConflict, nil, err)
		default:
			reply(ctx, http.StatusBadGateway, nil, err)
		}
	}
}

func (h *control) submit() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var sig schema.Signal
		if err := ctx.ShouldBindJSON(&sig); err != nil {
			reply(ctx, http.StatusBadRequest, nil, err)
			return
		}
		if sig.Timestamp.IsZero() {
			sig.Timestamp = time.Now().UTC()
		}
		if err := h.core.Submit(sig); err != nil {
			reply(ctx, http.StatusUnprocessableEntity, nil, err)
			return
		}
		reply(ctx, http.StatusAccepted, nil, nil)
	}
}

func (h *control) killSwitch() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req killSwitchReq
		if ctx.Request.ContentLength > 0 {
			if err := ctx.ShouldBindJSON(&req); err != nil {
				reply(ctx, http.StatusBadRequest, nil, err)
				return
			}
		}
		if req.Reason == "" {
			req.Reason = "operator"
		}
		trig := h.core.TriggerKillSwitch(req.Reason)
		logs.Infof("kill switch requested over http, remote: %s", ctx.ClientIP())
		reply(ctx, http.StatusOK, trig, nil)
	}
}

func (h *control) reset() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if err := h.core.ResetCircuitBreaker(); err != nil {
			status := http.StatusInternalServerError
			if stderrors.Is(err, exception.ErrCooldownActive) {
				status = http.StatusConflict
			}
			reply(ctx, status, nil, err)
			return
		}
		reply(ctx, http.StatusOK, h.core.Status(), nil)
	}
}

func (h *control) journal() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		n, _ := strconv.Atoi(ctx.DefaultQuery("n", "100"))
		h.audit.Journal.Flush()
		entries := h.audit.Memory.Recent(n)
		out := make([]json.RawMessage, 0, len(entries))
		for _, e := range entries {
			b, err := e.Envelope()
			if err != nil {
				logs.Errorf("encode journal entry failed, seq: %d, err: %+v", e.Seq, err)
				continue
			}
			out = append(out, b)
		}
		reply(ctx, http.StatusOK, out, nil)
	}
}
