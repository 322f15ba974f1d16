package handlers

import (
	"net/http"

	"assetdesk/internal/services"

	"github.com/gin-gonic/gin"
)

// SLAHandler 管理SLA策略与跟踪状态
type SLAHandler struct {
	service *services.SLAService
}

func NewSLAHandler(service *services.SLAService) *SLAHandler {
	return &SLAHandler{service: service}
}

// ListPolicies 获取SLA策略列表
func (h *SLAHandler) ListPolicies(c *gin.Context) {
	policies, err := h.service.ListPolicies(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list policies", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, policies)
}

// CreatePolicy 创建SLA策略
func (h *SLAHandler) CreatePolicy(c *gin.Context) {
	var req services.SLAPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	policy, err := h.service.CreatePolicy(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create policy", Message: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, policy)
}

// DeletePolicy 删除SLA策略
func (h *SLAHandler) DeletePolicy(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	if err := h.service.DeletePolicy(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if err.Error() == "policy not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to delete policy", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// GetStats SLA统计
func (h *SLAHandler) GetStats(c *gin.Context) {
	stats, err := h.service.GetSLAStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get stats", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Sweep 立即执行一轮SLA巡检（运维入口，与定时巡检等价）
func (h *SLAHandler) Sweep(c *gin.Context) {
	if err := h.service.CheckAllSLAs(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Sweep failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "sweep completed"})
}

// RegisterSLARoutes 注册路由
func RegisterSLARoutes(r *gin.RouterGroup, handler *SLAHandler) {
	sla := r.Group("/sla")
	{
		sla.GET("/policies", handler.ListPolicies)
		sla.POST("/policies", handler.CreatePolicy)
		sla.DELETE("/policies/:id", handler.DeletePolicy)
		sla.GET("/stats", handler.GetStats)
		sla.POST("/sweep", handler.Sweep)
	}
}
