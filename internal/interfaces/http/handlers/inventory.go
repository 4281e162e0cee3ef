// internal/interfaces/http/handlers/inventory.go
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/your-org/storefront-cart/internal/domain/inventory"
)

const maxBatchIDs = 100

// InventoryService serves and maintains catalog stock
type InventoryService interface {
	Batch(ctx context.Context, productIDs []string) ([]inventory.Snapshot, error)
	Single(ctx context.Context, productID string) (inventory.Snapshot, error)
	SetStock(ctx context.Context, productID string, req *inventory.SetStockRequest) (*inventory.ProductStock, error)
	Repair(ctx context.Context, productID string) (*inventory.ProductStock, bool, error)
}

// InventoryHandler handles catalog stock endpoints
type InventoryHandler struct {
	inventoryService InventoryService
}

// NewInventoryHandler creates a new inventory handler
func NewInventoryHandler(inventoryService InventoryService) *InventoryHandler {
	return &InventoryHandler{inventoryService: inventoryService}
}

// BatchStock handles GET /catalog/stock?ids=a,b
func (h *InventoryHandler) BatchStock(c *gin.Context) {
	ids := splitIDs(c.Query("ids"))
	if len(ids) == 0 {
		respondMessage(c, http.StatusBadRequest, "ids query parameter is required", false)
		return
	}
	if len(ids) > maxBatchIDs {
		respondMessage(c, http.StatusBadRequest, "too many product ids", false)
		return
	}

	snapshots, err := h.inventoryService.Batch(c.Request.Context(), ids)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, snapshots)
}

// GetStock handles GET /catalog/stock/:id
func (h *InventoryHandler) GetStock(c *gin.Context) {
	snapshot, err := h.inventoryService.Single(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, snapshot)
}

// SetStock handles PUT /admin/stock/:id
func (h *InventoryHandler) SetStock(c *gin.Context) {
	var req inventory.SetStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	record, err := h.inventoryService.SetStock(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, record.Snapshot())
}

// RepairStock handles POST /admin/stock/:id/repair
func (h *InventoryHandler) RepairStock(c *gin.Context) {
	record, repaired, err := h.inventoryService.Repair(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":     record.Snapshot(),
		"repaired": repaired,
	})
}

func splitIDs(raw string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
