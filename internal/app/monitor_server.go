package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"options-backtest/internal/monitor"
)

// runView 为回测记录的 JSON 表示，无限大的盈亏比输出为 null。
type runView struct {
	ID           string         `json:"id"`
	Strategy     string         `json:"strategy"`
	Date         string         `json:"date"`
	Params       map[string]any `json:"params"`
	TotalPnL     float64        `json:"total_pnl"`
	WinRate      float64        `json:"win_rate"`
	NumPositions int            `json:"num_positions"`
	MAR          float64        `json:"mar"`
	Sortino      float64        `json:"sortino"`
	Return       float64        `json:"return"`
	ProfitFactor *float64       `json:"profit_factor"`
	Intervals    int            `json:"intervals"`
	Skipped      int            `json:"skipped"`
	DurationMs   int64          `json:"duration_ms"`
}

func newRunView(r monitor.Run) runView {
	v := runView{
		ID:           r.ID,
		Strategy:     r.Strategy,
		Date:         r.Date.Format(time.DateOnly),
		Params:       r.Params,
		TotalPnL:     r.Metrics.TotalPnL,
		WinRate:      r.Metrics.WinRate,
		NumPositions: r.Metrics.NumPositions,
		MAR:          r.Metrics.MAR,
		Sortino:      r.Metrics.Sortino,
		Return:       r.Metrics.Return,
		Intervals:    r.Intervals,
		Skipped:      r.Skipped,
		DurationMs:   r.Finished.Sub(r.Started).Milliseconds(),
	}
	if pf := r.Metrics.ProfitFactor; !math.IsInf(pf, 0) && !math.IsNaN(pf) {
		v.ProfitFactor = &pf
	}
	return v
}

func parseLimit(q string) int {
	limit := 200
	if q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 {
			if v > 1000 {
				v = 1000
			}
			limit = v
		}
	}
	return limit
}

// newJournalHandler 提供运行记录的只读查询接口。
func newJournalHandler(svc *monitor.Service, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(v); err != nil {
			logger.Warn("写入监控响应失败", zap.Error(err))
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /runs", func(w http.ResponseWriter, r *http.Request) {
		runs, err := svc.ListRuns(r.Context(), parseLimit(r.URL.Query().Get("limit")))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		views := make([]runView, len(runs))
		for i, run := range runs {
			views[i] = newRunView(run)
		}
		writeJSON(w, views)
	})
	mux.HandleFunc("GET /runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		run, err := svc.GetRun(r.Context(), r.PathValue("id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, newRunView(run))
	})
	mux.HandleFunc("GET /runs/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		eventType := monitor.EventType(strings.ToLower(strings.TrimSpace(q.Get("type"))))
		events, err := svc.ListEvents(r.Context(), r.PathValue("id"), eventType, parseLimit(q.Get("limit")))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, events)
	})
	return mux
}

// ServeJournal 启动运行记录查询服务，阻塞到 ctx 结束。
func (a *App) ServeJournal(ctx context.Context, addr string) error {
	if a.store == nil {
		return fmt.Errorf("监控服务需要数据库")
	}
	svc, err := monitor.NewService(a.store, a.logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newJournalHandler(svc, a.logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	a.logger.Info("监控接口已启动", zap.String("addr", addr))

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("监控服务异常: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Warn("关闭监控服务失败", zap.Error(err))
	}
	a.logger.Info("监控接口已停止")
	return nil
}
