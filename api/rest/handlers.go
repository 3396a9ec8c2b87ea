// Package rest is the HTTP/JSON front of the executor.
package rest

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Rizwan-Beg/fxharry/domain/errs"
	"github.com/Rizwan-Beg/fxharry/domain/events"
	"github.com/Rizwan-Beg/fxharry/domain/matching"
	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
	"github.com/Rizwan-Beg/fxharry/service/executor"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Archive answers history queries. Optional.
type Archive interface {
	Fills(ctx context.Context, orderID uint64) ([]matching.Fill, error)
	History(ctx context.Context, orderID uint64) ([]events.Transition, error)
}

type OrderRequest struct {
	Symbol string `json:"symbol" validate:"required"`
	Side   string `json:"side" validate:"required,side"`
	Type   string `json:"type" validate:"ordertype"`
	Price  int64  `json:"price" validate:"gte=0"`
	Qty    int64  `json:"qty" validate:"gt=0"`
}

type OrderResponse struct {
	OrderID   string `json:"order_id"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Price     int64  `json:"price"`
	Qty       int64  `json:"qty"`
	Status    string `json:"status"`
	Filled    int64  `json:"filled"`
	Remaining int64  `json:"remaining"`
	Reason    string `json:"reason,omitempty"`
}

type BookResponse struct {
	Symbol  string            `json:"symbol"`
	Seq     uint64            `json:"seq"`
	Time    int64             `json:"time"`
	Bids    []orderbook.Quote `json:"bids"`
	Asks    []orderbook.Quote `json:"asks"`
	Resting int               `json:"resting"`
}

type OrderHandler struct {
	exec      *executor.Executor
	archive   Archive
	validator *validator.Validate
	log       *zap.Logger
}

func NewOrderHandler(exec *executor.Executor, archive Archive, log *zap.Logger) *OrderHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderHandler{exec: exec, archive: archive, validator: newValidator(), log: log}
}

// newValidator accepts exactly the spellings the orderbook parsers do.
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("side", func(fl validator.FieldLevel) bool {
		_, err := orderbook.ParseSide(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("ordertype", func(fl validator.FieldLevel) bool {
		_, err := orderbook.ParseOrderType(fl.Field().String())
		return err == nil
	})
	return v
}

func formatValidationError(err error) map[string]string {
	out := make(map[string]string)
	ves, ok := err.(validator.ValidationErrors)
	if !ok {
		out["request"] = err.Error()
		return out
	}
	for _, e := range ves {
		out[e.Field()] = "failed on tag '" + e.Tag() + "'"
	}
	return out
}

func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindInvalidArgument, errs.KindInvalidPrice, errs.KindInvalidQuantity:
		return http.StatusBadRequest
	case errs.KindOrderNotFound:
		return http.StatusNotFound
	case errs.KindOrderAlreadyTerminal, errs.KindDuplicateOrder:
		return http.StatusConflict
	case errs.KindRiskLimit, errs.KindNoLiquidity:
		return http.StatusUnprocessableEntity
	case errs.KindQueueFull:
		return http.StatusTooManyRequests
	case errs.KindShutdown:
		return http.StatusServiceUnavailable
	case errs.KindVenueTimeout:
		return http.StatusGatewayTimeout
	case errs.KindVenueRejected:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *OrderHandler) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Warn("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(code, gin.H{"error": err.Error(), "kind": errs.KindOf(err).String()})
}

func toResponse(o *executor.OrderHandle) OrderResponse {
	r := OrderResponse{
		OrderID:   strconv.FormatUint(o.ID, 10),
		Symbol:    o.Symbol,
		Side:      o.Side.String(),
		Type:      o.Type.String(),
		Price:     o.Price,
		Qty:       o.Qty,
		Status:    o.Status().String(),
		Filled:    o.Filled(),
		Remaining: o.Remaining(),
	}
	if err := o.Err(); err != nil {
		r.Reason = err.Error()
	}
	return r
}

func pathID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order id must be an unsigned integer"})
		return 0, false
	}
	return id, true
}

// POST /orders
func (h *OrderHandler) PlaceOrder(c *gin.Context) {
	var req OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.validator.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"validation_errors": formatValidationError(err)})
		return
	}
	side, err := orderbook.ParseSide(req.Side)
	if err != nil {
		h.fail(c, err)
		return
	}
	typ, err := orderbook.ParseOrderType(req.Type)
	if err != nil {
		h.fail(c, err)
		return
	}

	o, err := h.exec.Submit(c.Request.Context(), executor.Request{
		Symbol: req.Symbol, Side: side, Type: typ, Price: req.Price, Qty: req.Qty,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toResponse(o))
}

// DELETE /orders/:id waits for the worker's verdict. The handle is taken
// up front; a terminal order may be forgotten while the cancel settles.
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	o, found := h.exec.Handle(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found", "kind": errs.KindOrderNotFound.String()})
		return
	}
	t, err := h.exec.CancelOrder(c.Request.Context(), id)
	if err == nil {
		err = t.Wait(c.Request.Context())
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(o))
}

// GET /orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	o, found := h.exec.Handle(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found", "kind": errs.KindOrderNotFound.String()})
		return
	}
	c.JSON(http.StatusOK, toResponse(o))
}

// GET /orders/:id/history
func (h *OrderHandler) GetHistory(c *gin.Context) {
	if h.archive == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no archive configured"})
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	fills, err := h.archive.Fills(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	transitions, err := h.archive.History(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fills": fills, "transitions": transitions})
}

// GET /books/:symbol
func (h *OrderHandler) GetBook(c *gin.Context) {
	v := h.exec.Book(c.Param("symbol"))
	if v == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol"})
		return
	}
	c.JSON(http.StatusOK, BookResponse{
		Symbol: v.Symbol, Seq: v.Seq, Time: v.Time,
		Bids: v.Depth.Bids, Asks: v.Depth.Asks, Resting: v.Resting,
	})
}
