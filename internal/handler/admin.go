package handler

import (
	"net/http"
	"strconv"

	"github.com/finflow-labs/sentinel/internal/monitor"
	"github.com/finflow-labs/sentinel/internal/policy"
	"github.com/finflow-labs/sentinel/internal/ratelimit"
	"github.com/finflow-labs/sentinel/internal/repository"
	"github.com/gin-gonic/gin"
)

// AdminHandler exposes the operational surface: inspecting and lifting
// security blocks, reading and resolving alerts, and the audit trail.
type AdminHandler struct {
	blocks *ratelimit.BlockStore
	mon    *monitor.Monitor
	audit  *repository.AuditRepository
}

func NewAdminHandler(blocks *ratelimit.BlockStore, mon *monitor.Monitor, audit *repository.AuditRepository) *AdminHandler {
	return &AdminHandler{
		blocks: blocks,
		mon:    mon,
		audit:  audit,
	}
}

func (h *AdminHandler) GetBlock(c *gin.Context) {
	limitType, ok := policy.ParseLimitType(c.Param("type"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown limit type"})
		return
	}
	identifier := c.Param("identifier")

	block, err := h.blocks.Get(c.Request.Context(), identifier, limitType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if block == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active block"})
		return
	}

	c.JSON(http.StatusOK, block)
}

// RemoveBlock is the administrative override: it lifts a block before its
// blocked_until passes.
func (h *AdminHandler) RemoveBlock(c *gin.Context) {
	limitType, ok := policy.ParseLimitType(c.Param("type"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown limit type"})
		return
	}
	identifier := c.Param("identifier")

	if err := h.blocks.Remove(c.Request.Context(), identifier, limitType); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Block removed"})
}

func (h *AdminHandler) ListAlerts(c *gin.Context) {
	if c.Query("all") == "true" {
		c.JSON(http.StatusOK, h.mon.Alerts().All())
		return
	}
	c.JSON(http.StatusOK, h.mon.Alerts().Active())
}

func (h *AdminHandler) ResolveAlert(c *gin.Context) {
	id := c.Param("id")

	if !h.mon.Alerts().Resolve(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Alert resolved"})
}

func (h *AdminHandler) AuditTrail(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	records, err := h.audit.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, records)
}
