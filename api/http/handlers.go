package httpapi

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/dvrvsimi/openbook-dex/domain/instruction"
	"github.com/dvrvsimi/openbook-dex/domain/market"
	"github.com/dvrvsimi/openbook-dex/domain/orderbook"
	"github.com/dvrvsimi/openbook-dex/pkg/logger"
)

type postOrderRequest struct {
	Side      string `json:"side"`       // "bid" or "ask"
	Type      string `json:"type"`       // "limit", "ioc", "post_only"
	SelfTrade string `json:"self_trade"` // "cancel_oldest", "cancel_newest", "decrement", "abort"
	OwnerSlot uint32 `json:"owner_slot"`
	Owner     string `json:"owner"`
	Price     uint64 `json:"price"`
	Quantity  uint64 `json:"quantity"`
	ClientID  uint64 `json:"client_id"`
	// Queued submissions go through the request queue and are matched
	// at the next crank; direct ones match inline.
	Queued bool `json:"queued"`
}

func (s *Server) postOrder(c *fiber.Ctx) error {
	var req postOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, errors.New("invalid request body"))
	}
	side, err := parseSide(req.Side)
	if err != nil {
		return badRequest(c, err)
	}
	otype, err := parseOrderType(req.Type)
	if err != nil {
		return badRequest(c, err)
	}
	policy, err := parseSelfTrade(req.SelfTrade)
	if err != nil {
		return badRequest(c, err)
	}
	owner, err := market.ParseAddress(req.Owner)
	if err != nil {
		return badRequest(c, errors.New("owner must be 64 hex characters"))
	}

	ix := instruction.NewOrder{
		Side:      side,
		Type:      otype,
		SelfTrade: policy,
		OwnerSlot: req.OwnerSlot,
		Owner:     owner,
		Price:     req.Price,
		Quantity:  req.Quantity,
		ClientID:  req.ClientID,
	}

	s.log.Info("order.post",
		logger.NewField("side", req.Side),
		logger.NewField("slot", req.OwnerSlot),
		logger.NewField("price", req.Price),
		logger.NewField("quantity", req.Quantity))

	if req.Queued {
		if err := s.svc.SubmitRequest(instruction.Encode(ix)); err != nil {
			return marketError(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"queued": true})
	}
	if err := s.svc.PlaceOrder(ix); err != nil {
		return marketError(c, err)
	}
	return c.JSON(fiber.Map{"queued": false})
}

type cancelOrderRequest struct {
	Side      string `json:"side"`
	OwnerSlot uint32 `json:"owner_slot"`
	OrderID   string `json:"order_id"` // 32 hex characters: price then sequence
}

func (s *Server) cancelOrder(c *fiber.Ctx) error {
	var req cancelOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, errors.New("invalid request body"))
	}
	side, err := parseSide(req.Side)
	if err != nil {
		return badRequest(c, err)
	}
	id, err := orderbook.ParseKey(req.OrderID)
	if err != nil {
		return badRequest(c, errors.New("order_id must be 32 hex characters"))
	}
	if err := s.svc.CancelOrder(instruction.CancelOrder{
		Side:      side,
		OwnerSlot: req.OwnerSlot,
		OrderID:   id,
	}); err != nil {
		return marketError(c, err)
	}
	return c.JSON(fiber.Map{"cancelled": req.OrderID})
}

func (s *Server) depth(c *fiber.Ctx) error {
	side, err := parseSide(c.Query("side", "bid"))
	if err != nil {
		return badRequest(c, err)
	}
	levels := c.QueryInt("levels", 20)
	if levels < 1 || levels > 200 {
		return badRequest(c, errors.New("levels must be in [1,200]"))
	}
	return c.JSON(fiber.Map{
		"side":   side.String(),
		"levels": s.svc.Depth(side, levels),
	})
}

func (s *Server) getOpenOrders(c *fiber.Ctx) error {
	slot, err := strconv.ParseUint(c.Params("slot"), 10, 32)
	if err != nil {
		return badRequest(c, errors.New("slot must be an integer"))
	}
	view, err := s.svc.OpenOrders(uint32(slot))
	if err != nil {
		return marketError(c, err)
	}
	return c.JSON(view)
}

func (s *Server) settle(c *fiber.Ctx) error {
	slot, err := strconv.ParseUint(c.Params("slot"), 10, 32)
	if err != nil {
		return badRequest(c, errors.New("slot must be an integer"))
	}
	base, quote, err := s.svc.SettleFunds(uint32(slot))
	if err != nil {
		return marketError(c, err)
	}
	return c.JSON(fiber.Map{"base": base, "quote": quote})
}

type creditRequest struct {
	OwnerSlot uint32 `json:"owner_slot"`
	Owner     string `json:"owner"`
	Base      uint64 `json:"base"`
	Quote     uint64 `json:"quote"`
}

func (s *Server) credit(c *fiber.Ctx) error {
	var req creditRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, errors.New("invalid request body"))
	}
	owner, err := market.ParseAddress(req.Owner)
	if err != nil {
		return badRequest(c, errors.New("owner must be 64 hex characters"))
	}
	if err := s.svc.Credit(req.OwnerSlot, owner, req.Base, req.Quote); err != nil {
		return marketError(c, err)
	}
	return c.JSON(fiber.Map{"credited": true})
}

func parseSide(s string) (orderbook.Side, error) {
	switch s {
	case "bid", "buy":
		return orderbook.Bid, nil
	case "ask", "sell":
		return orderbook.Ask, nil
	default:
		return 0, errors.New("side must be bid or ask")
	}
}

func parseOrderType(s string) (instruction.OrderType, error) {
	switch s {
	case "", "limit":
		return instruction.Limit, nil
	case "ioc":
		return instruction.ImmediateOrCancel, nil
	case "post_only":
		return instruction.PostOnly, nil
	default:
		return 0, errors.New("type must be limit, ioc, or post_only")
	}
}

func parseSelfTrade(s string) (instruction.SelfTradePolicy, error) {
	switch s {
	case "", "cancel_oldest":
		return instruction.CancelOldest, nil
	case "cancel_newest":
		return instruction.CancelNewest, nil
	case "decrement":
		return instruction.DecrementAndCancel, nil
	case "abort":
		return instruction.AbortTransaction, nil
	default:
		return 0, errors.New("unknown self_trade policy")
	}
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
}

// marketError maps the error taxonomy onto HTTP statuses.
func marketError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch market.CodeOf(err) {
	case market.CodeValidation:
		status = fiber.StatusBadRequest
	case market.CodeState:
		status = fiber.StatusNotFound
	case market.CodeCapacity:
		status = fiber.StatusServiceUnavailable
	case market.CodeBudget:
		status = fiber.StatusTooManyRequests
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"code":  market.CodeOf(err).String(),
	})
}
