package handlers

import (
	"net/http"

	"assetdesk/internal/services"

	"github.com/gin-gonic/gin"
)

// AssignmentHandler 管理自动派单规则
type AssignmentHandler struct {
	service *services.AssignmentService
}

func NewAssignmentHandler(service *services.AssignmentService) *AssignmentHandler {
	return &AssignmentHandler{service: service}
}

// ListRules 获取派单规则列表
func (h *AssignmentHandler) ListRules(c *gin.Context) {
	rules, err := h.service.ListRules(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list rules", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rules)
}

// CreateRule 创建派单规则
func (h *AssignmentHandler) CreateRule(c *gin.Context) {
	var req services.AssignmentRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	rule, err := h.service.CreateRule(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create rule", Message: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, rule)
}

// DeleteRule 删除派单规则
func (h *AssignmentHandler) DeleteRule(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteRule(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if err.Error() == "rule not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to delete rule", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// Resolve 对单张工单手动触发自动派单
func (h *AssignmentHandler) Resolve(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	assignee, err := h.service.AutoAssignTicket(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to assign ticket", Message: err.Error()})
		return
	}
	if assignee == nil {
		c.JSON(http.StatusOK, SuccessResponse{Message: "no technician available"})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "assigned", Data: gin.H{"assigned_to_id": *assignee}})
}

// GetStats 派单统计
func (h *AssignmentHandler) GetStats(c *gin.Context) {
	stats, err := h.service.GetAssignmentStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get stats", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// RegisterAssignmentRoutes 注册路由
func RegisterAssignmentRoutes(r *gin.RouterGroup, handler *AssignmentHandler) {
	rules := r.Group("/assignment-rules")
	{
		rules.GET("", handler.ListRules)
		rules.POST("", handler.CreateRule)
		rules.DELETE(":id", handler.DeleteRule)
		rules.GET("/stats", handler.GetStats)
	}
	r.POST("/tickets/:id/auto-assign", handler.Resolve)
}
