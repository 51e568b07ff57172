package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-bridge/internal/proxy"
)

type ConfigHandler struct {
	store *proxy.SettingsStore
	log   *zap.Logger
}

func NewConfigHandler(store *proxy.SettingsStore, log *zap.Logger) *ConfigHandler {
	return &ConfigHandler{
		store: store,
		log:   log,
	}
}

// Get returns the active dynamic configuration snapshot.
func (h *ConfigHandler) Get(c *fiber.Ctx) error {
	return c.JSON(h.store.Current())
}

// Set replaces the dynamic configuration. Sessions read the store on each
// operation, so the swapped snapshot steers live sessions too: standalone
// answers and the next reconnect pick up the new values.
func (h *ConfigHandler) Set(c *fiber.Ctx) error {
	var req proxy.Settings
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if req.CsmsForwardingEnabled {
		if !strings.HasPrefix(req.TargetCsmsURL, "ws://") && !strings.HasPrefix(req.TargetCsmsURL, "wss://") {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "targetCsmsUrl must start with ws:// or wss://"})
		}
	}

	if err := h.store.Update(c.Context(), req); err != nil {
		h.log.Error("Failed to update proxy settings", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update settings"})
	}

	return c.JSON(h.store.Current())
}
