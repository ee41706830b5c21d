package api

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	models "github.com/0x556c79/deltabadger/internal/domain/models"
	drepo "github.com/0x556c79/deltabadger/internal/domain/repository"
	"github.com/0x556c79/deltabadger/internal/usecase"
	xhttp "github.com/0x556c79/deltabadger/pkg/http"
	xlogger "github.com/0x556c79/deltabadger/pkg/logger"
	"github.com/0x556c79/deltabadger/pkg/util"
)

// BotsEchoHandler implements Echo-based HTTP handlers following Clean Architecture.
type BotsEchoHandler struct {
	logger    *xlogger.Logger
	runner    *usecase.BotRunner
	bots      drepo.BotRepository
	txs       drepo.TransactionStore
	pending   *usecase.PendingCalculator
	scheduler *usecase.ActionScheduler
}

func NewBotsEchoHandler(
	logger *xlogger.Logger,
	runner *usecase.BotRunner,
	bots drepo.BotRepository,
	txs drepo.TransactionStore,
	pending *usecase.PendingCalculator,
	scheduler *usecase.ActionScheduler,
) *BotsEchoHandler {
	return &BotsEchoHandler{
		logger:    logger,
		runner:    runner,
		bots:      bots,
		txs:       txs,
		pending:   pending,
		scheduler: scheduler,
	}
}

func (h *BotsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/bots", h.List)
	g.POST("/bots", h.Create)
	g.GET("/bots/:id", h.Get)
	g.PATCH("/bots/:id", h.Update)
	g.GET("/bots/:id/transactions", h.Transactions)
	g.POST("/bots/:id/start", h.Start)
	g.POST("/bots/:id/stop", h.Stop)
}

func (h *BotsEchoHandler) List(c echo.Context) error {
	req := &models.ListBotsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	bots, err := h.bots.List(c.Request().Context(), models.BotStatus(req.Status), req.Limit)
	if err != nil {
		h.logger.Error("list bots error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	views := make([]*botView, 0, len(bots))
	for _, b := range bots {
		views = append(views, h.renderBot(c, b, false))
	}
	return xhttp.ListResponse(c, views, int64(len(views)))
}

func (h *BotsEchoHandler) Get(c echo.Context) error {
	bot, err := h.bots.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.botError(c, err, "get bot error")
	}
	return xhttp.SuccessResponse(c, h.renderBot(c, bot, true))
}

func (h *BotsEchoHandler) Create(c echo.Context) error {
	req := &models.CreateBotRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	bot, appErr := botFromCreateRequest(req)
	if appErr != nil {
		return xhttp.AppErrorResponse(c, appErr)
	}
	if err := h.bots.Create(c.Request().Context(), bot); err != nil {
		h.logger.Error("create bot error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	h.logger.Info("bot created",
		xlogger.String("bot_id", bot.ID),
		xlogger.String("exchange", bot.Exchange),
		xlogger.String("quote_amount", bot.QuoteAmount.String()))
	return xhttp.CreatedResponse(c, h.renderBot(c, bot, false))
}

func (h *BotsEchoHandler) Update(c echo.Context) error {
	req := &models.UpdateBotRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	apply, appErr := applyFromUpdateRequest(req)
	if appErr != nil {
		return xhttp.AppErrorResponse(c, appErr)
	}
	bot, err := h.runner.UpdateConfig(c.Request().Context(), c.Param("id"), apply)
	if err != nil {
		return h.botError(c, err, "update bot error")
	}
	return xhttp.SuccessResponse(c, h.renderBot(c, bot, true))
}

func (h *BotsEchoHandler) Transactions(c echo.Context) error {
	req := &models.BotTransactionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	botID := c.Param("id")
	if _, err := h.bots.Get(c.Request().Context(), botID); err != nil {
		return h.botError(c, err, "get bot error")
	}

	from := util.ParseTimeDefault(req.From, time.Time{})
	to := util.ParseTimeDefault(req.To, time.Now().UTC())
	txs, err := h.txs.Query(c.Request().Context(), botID, from, to, req.Limit)
	if err != nil {
		h.logger.Error("query transactions error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	views := make([]*transactionView, 0, len(txs))
	for _, t := range txs {
		views = append(views, renderTransaction(t))
	}
	return xhttp.ListResponse(c, views, int64(len(views)))
}

func (h *BotsEchoHandler) Start(c echo.Context) error {
	bot, err := h.runner.Start(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.botError(c, err, "start bot error")
	}
	return xhttp.SuccessResponse(c, h.renderBot(c, bot, true))
}

func (h *BotsEchoHandler) Stop(c echo.Context) error {
	bot, err := h.runner.Stop(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.botError(c, err, "stop bot error")
	}
	return xhttp.SuccessResponse(c, h.renderBot(c, bot, false))
}

func (h *BotsEchoHandler) botError(c echo.Context, err error, msg string) error {
	if errors.Is(err, drepo.ErrBotNotFound) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("bot %s not found", c.Param("id")))
	}
	h.logger.Error(msg, xlogger.String("bot_id", c.Param("id")), xlogger.Error(err))
	return xhttp.AppErrorResponse(c, err)
}

// renderBot builds the transport view. Derived fields (pending amount, next
// delivery) hit the stores, so list endpoints skip them.
func (h *BotsEchoHandler) renderBot(c echo.Context, b *models.Bot, derived bool) *botView {
	v := &botView{
		ID:                b.ID,
		Kind:              string(b.Kind),
		Status:            string(b.Status),
		Exchange:          b.Exchange,
		QuoteAsset:        b.QuoteAsset,
		BaseAssets:        b.BaseAssets,
		Interval:          string(b.Interval),
		OrderType:         string(b.OrderType),
		QuoteAmount:       b.QuoteAmount.String(),
		MissedQuoteAmount: b.MissedQuoteAmount.String(),
		StartedAt:         timePtr(b.StartedAt),
		LastActionJobAt:   b.LastActionJobAt,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
	for _, w := range b.Weights {
		v.Weights = append(v.Weights, w.String())
	}
	if b.TargetQuoteAmount.IsPositive() {
		v.TargetQuoteAmount = b.TargetQuoteAmount.String()
	}
	if !derived {
		return v
	}

	ctx := c.Request().Context()
	if next, err := h.scheduler.NextActionJobAt(ctx, b.ID); err == nil {
		v.NextActionJobAt = next
	} else {
		h.logger.Warn("next action lookup failed", xlogger.String("bot_id", b.ID), xlogger.Error(err))
	}
	if b.Status.Active() {
		if pending, err := h.pending.PendingQuoteAmount(ctx, b, time.Now().UTC()); err == nil {
			s := pending.String()
			v.PendingQuoteAmount = &s
		} else {
			h.logger.Warn("pending lookup failed", xlogger.String("bot_id", b.ID), xlogger.Error(err))
		}
	}
	return v
}

func botFromCreateRequest(req *models.CreateBotRequest) (*models.Bot, *xhttp.AppError) {
	kind := models.BotKind(req.Kind)
	if kind == models.BotDual && len(req.BaseAssets) != 2 {
		return nil, xhttp.BadRequestError("dual bots need exactly two base assets")
	}
	if kind == models.BotSingle && len(req.BaseAssets) != 1 {
		return nil, xhttp.BadRequestError("single bots need exactly one base asset")
	}

	amount, err := decimal.NewFromString(req.QuoteAmount)
	if err != nil || !amount.IsPositive() {
		return nil, xhttp.BadRequestError("quote_amount must be a positive decimal")
	}
	target := decimal.Zero
	if req.TargetQuoteAmount != "" {
		target, err = decimal.NewFromString(req.TargetQuoteAmount)
		if err != nil || target.IsNegative() {
			return nil, xhttp.BadRequestError("target_quote_amount must be a non-negative decimal")
		}
	}
	var weights []decimal.Decimal
	for _, raw := range req.Weights {
		w, err := decimal.NewFromString(raw)
		if err != nil || w.IsNegative() {
			return nil, xhttp.BadRequestError("weights must be non-negative decimals")
		}
		weights = append(weights, w)
	}

	bases := make([]string, 0, len(req.BaseAssets))
	for _, a := range req.BaseAssets {
		bases = append(bases, strings.ToUpper(a))
	}
	now := time.Now().UTC()
	return &models.Bot{
		ID:                uuid.NewString(),
		Kind:              kind,
		Status:            models.BotStopped,
		Exchange:          strings.ToLower(req.Exchange),
		QuoteAsset:        strings.ToUpper(req.QuoteAsset),
		BaseAssets:        bases,
		Weights:           weights,
		Interval:          models.Interval(req.Interval),
		OrderType:         models.OrderType(req.OrderType),
		QuoteAmount:       amount,
		MissedQuoteAmount: decimal.Zero,
		TargetQuoteAmount: target,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func applyFromUpdateRequest(req *models.UpdateBotRequest) (func(*models.Bot) error, *xhttp.AppError) {
	var amount, target *decimal.Decimal
	if req.QuoteAmount != "" {
		a, err := decimal.NewFromString(req.QuoteAmount)
		if err != nil || !a.IsPositive() {
			return nil, xhttp.BadRequestError("quote_amount must be a positive decimal")
		}
		amount = &a
	}
	if req.TargetQuoteAmount != "" {
		t, err := decimal.NewFromString(req.TargetQuoteAmount)
		if err != nil || t.IsNegative() {
			return nil, xhttp.BadRequestError("target_quote_amount must be a non-negative decimal")
		}
		target = &t
	}

	return func(b *models.Bot) error {
		if req.Interval != "" {
			b.Interval = models.Interval(req.Interval)
		}
		if req.OrderType != "" {
			b.OrderType = models.OrderType(req.OrderType)
		}
		if amount != nil {
			b.QuoteAmount = *amount
		}
		if target != nil {
			b.TargetQuoteAmount = *target
		}
		return nil
	}, nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
