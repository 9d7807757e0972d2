package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"portfolio-backtest/internal/api/models"
	"portfolio-backtest/internal/backtest"
	"portfolio-backtest/internal/config"
	"portfolio-backtest/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamBacktest handles GET /api/v1/backtests/stream. The client sends one
// BacktestRequest message; the server answers with signal and progress
// events while the run is going and a final result or error event.
func (h *BacktestHandler) StreamBacktest(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	log := h.log.With(zap.String("remote", c.ClientIP()))
	send := func(typ string, data any) {
		if err := ws.WriteJSON(models.StreamEvent{Type: typ, Data: data}); err != nil {
			log.Debug("websocket write failed", zap.String("event", typ), zap.Error(err))
		}
	}
	fail := func(code string, err error) {
		send("error", models.ErrorDetail{Code: code, Message: err.Error()})
	}

	var req models.BacktestRequest
	if err := ws.ReadJSON(&req); err != nil {
		fail("INVALID_REQUEST", err)
		return
	}
	if len(req.Config) == 0 {
		fail("INVALID_REQUEST", errors.New("config is required"))
		return
	}
	cfg, err := config.Parse(req.Config, h.dataDir)
	if err != nil {
		fail(errorCode(err), err)
		return
	}

	// The engine calls the observer from the goroutine running it, so writes
	// never overlap.
	obs := backtest.ObserverFuncs{
		OnSignal:   func(s model.TradeSignal) { send("signal", s) },
		OnProgress: func(p backtest.Progress) { send("progress", p) },
	}
	rep, err := h.run(c.Request.Context(), cfg, obs)
	if err != nil {
		fail(errorCode(err), err)
		return
	}

	label := firstNonEmpty(req.Options.Label, cfg.Label)
	id := h.save(c.Request.Context(), label, rep)
	send("result", buildResponse(id, label, rep, req.Options))
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	log.Info("streamed backtest finished", zap.String("id", id), zap.Int("trades", len(rep.Ledger)))
}
