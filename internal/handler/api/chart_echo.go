package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
	"github.com/VigneshwaranJheyaraman/charts-helper/internal/service/ratelimit"
	"github.com/VigneshwaranJheyaraman/charts-helper/internal/usecase"
	xhttp "github.com/VigneshwaranJheyaraman/charts-helper/pkg/http"
	xlogger "github.com/VigneshwaranJheyaraman/charts-helper/pkg/logger"

	"github.com/labstack/echo/v4"
)

// ChartEchoHandler exposes the chart data manager over HTTP.
type ChartEchoHandler struct {
	logger   *xlogger.Logger
	charts   *usecase.ChartDataManager
	rl       *ratelimit.Limiter
	tickRate float64
	now      func() time.Time
}

// NewChartEchoHandler limits POST /chart/tick to tickRate requests per
// second per client. Zero disables the limit.
func NewChartEchoHandler(logger *xlogger.Logger, charts *usecase.ChartDataManager, rl *ratelimit.Limiter, tickRate int) *ChartEchoHandler {
	if rl == nil {
		rl = ratelimit.New()
	}
	return &ChartEchoHandler{logger: logger, charts: charts, rl: rl, tickRate: float64(tickRate), now: time.Now}
}

func (h *ChartEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.POST("/chart/initial", h.Initial)
	g.POST("/chart/history", h.History)
	g.GET("/chart/range", h.Range)
	g.GET("/chart/current", h.Current)
	g.POST("/chart/tick", h.Tick)
	g.PUT("/chart/symbol", h.ChangeSymbol)
	g.GET("/chart/symbol", h.Symbol)
	g.GET("/market/status", h.MarketStatus)
	g.GET("/market/symbol-info", h.SymbolInfo)
}

func (h *ChartEchoHandler) Initial(c echo.Context) error {
	req := &models.ChartRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := models.ParseResolution(req.Resolution)
	if err != nil {
		return xhttp.AppErrorResponse(c, resolutionError(req.Resolution, err))
	}

	data, err := h.charts.GetInitialData(c.Request().Context(), res, req.Headers)
	if err != nil {
		h.logger.Error("initial data error", xlogger.String("resolution", res.Token), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, chartError(err))
	}
	return xhttp.SuccessResponse(c, data)
}

func (h *ChartEchoHandler) History(c echo.Context) error {
	req := &models.ChartRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := models.ParseResolution(req.Resolution)
	if err != nil {
		return xhttp.AppErrorResponse(c, resolutionError(req.Resolution, err))
	}

	data, err := h.charts.GetHistoricData(c.Request().Context(), res, req.Headers)
	if err != nil {
		h.logger.Error("history error", xlogger.String("resolution", res.Token), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, chartError(err))
	}
	return xhttp.SuccessResponse(c, data)
}

func (h *ChartEchoHandler) Range(c echo.Context) error {
	req := &models.RangeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := models.ParseResolution(req.Resolution)
	if err != nil {
		return xhttp.AppErrorResponse(c, resolutionError(req.Resolution, err))
	}
	rng, ok := h.charts.Range(res)
	if !ok {
		return xhttp.NotFoundResponse(c, "no range served for %s", res.Token)
	}
	return xhttp.SuccessResponse(c, rng)
}

func (h *ChartEchoHandler) Current(c echo.Context) error {
	cur := h.charts.Current()
	if cur == nil {
		return xhttp.NotFoundResponse(c, "no open candle")
	}
	return xhttp.SuccessResponse(c, cur)
}

func (h *ChartEchoHandler) Tick(c echo.Context) error {
	if h.tickRate > 0 && !h.rl.Allow(c.RealIP(), h.tickRate, h.tickRate) {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many ticks").WithParam("rate", h.tickRate))
	}

	req := &models.TickRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if req.Date.IsZero() {
		return xhttp.AppErrorResponse(c, xhttp.RequiredError("date"))
	}
	res := h.charts.Resolution()
	if req.Resolution != "" {
		var err error
		if res, err = models.ParseResolution(req.Resolution); err != nil {
			return xhttp.AppErrorResponse(c, resolutionError(req.Resolution, err))
		}
	}

	candle := h.charts.UpdateRealTime(res, req.Tick())
	return xhttp.SuccessResponse(c, models.TickResponse{
		Candle:    candle,
		Streaming: h.charts.IsStreaming(),
		Queued:    h.charts.QueueLen(),
	})
}

func (h *ChartEchoHandler) ChangeSymbol(c echo.Context) error {
	req := &models.Symbol{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.charts.ChangeSymbol(*req); err != nil {
		h.logger.Error("change symbol error", xlogger.String("ticker", req.TickerName()), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, chartError(err))
	}
	return xhttp.SuccessResponse(c, h.charts.SymbolInfo())
}

func (h *ChartEchoHandler) Symbol(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.charts.Symbol())
}

func (h *ChartEchoHandler) MarketStatus(c echo.Context) error {
	req := &models.MarketStatusRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	at := h.now()
	if req.At != "" {
		t, ok := xhttp.ParseTime(req.At)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid time %q", req.At))
		}
		at = t
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, h.charts.MarketStatus(at))
}

func (h *ChartEchoHandler) SymbolInfo(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.charts.SymbolInfo())
}

func resolutionError(token string, err error) *xhttp.AppError {
	return xhttp.NewAppError("ERR_RESOLUTION", "resolution", "invalid resolution", http.StatusBadRequest).
		WithParam("value", token).
		WithError(err)
}

func chartError(err error) error {
	switch {
	case errors.Is(err, usecase.ErrSymbolRequired):
		return xhttp.NewAppError("ERR_SYMBOL", "symbol", err.Error(), http.StatusBadRequest).WithError(err)
	case errors.Is(err, usecase.ErrSymbolChanged):
		return xhttp.ConflictError("ERR_SYMBOL_CHANGED", err.Error()).WithError(err)
	case errors.Is(err, usecase.ErrSymbolRules):
		return xhttp.UnprocessableError("ERR_SYMBOL_RULES", "symbol", "no market rules for symbol").WithError(err)
	case errors.Is(err, usecase.ErrSymbolPublish):
		return xhttp.InternalErrorf("symbol change was rolled back").WithError(err)
	default:
		return xhttp.UpstreamError("ERR_HISTORY_UNAVAILABLE", "historical data unavailable").WithError(err)
	}
}
