package handlers

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-bridge/internal/ports"
	"github.com/seu-repo/ocpp-bridge/internal/proxy"
)

type ControlHandler struct {
	service ports.ControlService
	log     *zap.Logger
}

func NewControlHandler(service ports.ControlService, log *zap.Logger) *ControlHandler {
	return &ControlHandler{
		service: service,
		log:     log,
	}
}

type InjectRequest struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

type LimitRequest struct {
	MaxPower *float64 `json:"maxPower"`
}

type SessionLimitRequest struct {
	Amperes       float64 `json:"amperes"`
	TransactionID *int    `json:"transactionId,omitempty"`
}

// Inject sends an arbitrary OCPP Call to a connected charger. The
// charger's response is swallowed by the proxy and only shows up in
// the message log.
func (h *ControlHandler) Inject(c *fiber.Ctx) error {
	id := c.Params("id")

	var req InjectRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Action == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Action is required"})
	}

	messageID, err := h.service.Inject(c.Context(), id, req.Action, req.Payload)
	if err != nil {
		return h.controlError(c, id, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"messageId": messageID})
}

// SetLimit stores a persistent current limit for the charger and, when
// it is connected, pushes a matching SetChargingProfile right away.
// A null maxPower clears the limit.
func (h *ControlHandler) SetLimit(c *fiber.Ctx) error {
	id := c.Params("id")

	var req LimitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.MaxPower != nil && *req.MaxPower <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "maxPower must be positive"})
	}

	if err := h.service.SetPersistentLimit(c.Context(), id, req.MaxPower); err != nil {
		return h.controlError(c, id, err)
	}

	return c.JSON(fiber.Map{"chargePointId": id, "maxPower": req.MaxPower})
}

// SessionLimit pushes a one-off TxProfile limit that is not persisted.
func (h *ControlHandler) SessionLimit(c *fiber.Ctx) error {
	id := c.Params("id")

	var req SessionLimitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Amperes <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "amperes must be positive"})
	}

	messageID, err := h.service.ApplySessionLimit(c.Context(), id, req.Amperes, req.TransactionID)
	if err != nil {
		return h.controlError(c, id, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"chargePointId": id, "amperes": req.Amperes, "messageId": messageID})
}

func (h *ControlHandler) controlError(c *fiber.Ctx, id string, err error) error {
	if errors.Is(err, proxy.ErrChargerNotConnected) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Charger is not connected"})
	}
	h.log.Error("Control command failed", zap.String("charge_point_id", id), zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Command failed"})
}
