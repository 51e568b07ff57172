package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-bridge/internal/ports"
)

type ChargerHandler struct {
	service ports.ChargerService
	log     *zap.Logger
}

func NewChargerHandler(service ports.ChargerService, log *zap.Logger) *ChargerHandler {
	return &ChargerHandler{
		service: service,
		log:     log,
	}
}

// List returns every charger the bridge has ever seen, with its live
// connection state folded in.
func (h *ChargerHandler) List(c *fiber.Ctx) error {
	chargers, err := h.service.ListChargers(c.Context())
	if err != nil {
		h.log.Error("Failed to list chargers", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list chargers"})
	}
	return c.JSON(fiber.Map{"chargers": chargers, "count": len(chargers)})
}

// Logs returns the most recent message log entries for one charger,
// newest first.
func (h *ChargerHandler) Logs(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Charger id is required"})
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid limit"})
		}
		limit = n
	}

	logs, err := h.service.GetLogs(c.Context(), id, limit)
	if err != nil {
		h.log.Error("Failed to fetch logs", zap.String("charge_point_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch logs"})
	}
	return c.JSON(fiber.Map{"logs": logs, "count": len(logs)})
}
