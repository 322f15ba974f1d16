package handlers

import (
	"net/http"

	"assetdesk/internal/services"

	"github.com/gin-gonic/gin"
)

// TicketHandler 工单生命周期接口，所有变更都会触发自动化
type TicketHandler struct {
	service *services.TicketService
}

func NewTicketHandler(service *services.TicketService) *TicketHandler {
	return &TicketHandler{service: service}
}

// CreateTicket 创建工单
func (h *TicketHandler) CreateTicket(c *gin.Context) {
	var req services.TicketCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	ticket, err := h.service.CreateTicket(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create ticket", Message: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, ticket)
}

// GetTicket 获取工单详情
func (h *TicketHandler) GetTicket(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	ticket, err := h.service.GetTicket(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Ticket not found", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// UpdateStatus 更新工单状态
func (h *TicketHandler) UpdateStatus(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	ticket, err := h.service.UpdateStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to update status", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// UpdatePriority 更新工单优先级
func (h *TicketHandler) UpdatePriority(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		Priority string `json:"priority" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	ticket, err := h.service.UpdatePriority(c.Request.Context(), id, req.Priority)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to update priority", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// AssignTicket 手工指派工单
func (h *TicketHandler) AssignTicket(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		UserID uint `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	ticket, err := h.service.AssignTicket(c.Request.Context(), id, req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to assign ticket", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// AddComment 追加评论
func (h *TicketHandler) AddComment(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		UserID  uint   `json:"user_id" binding:"required"`
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	comment, err := h.service.AddComment(c.Request.Context(), id, req.UserID, req.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to add comment", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, comment)
}

// RegisterTicketRoutes 注册路由
func RegisterTicketRoutes(r *gin.RouterGroup, handler *TicketHandler) {
	tickets := r.Group("/tickets")
	{
		tickets.POST("", handler.CreateTicket)
		tickets.GET(":id", handler.GetTicket)
		tickets.PUT(":id/status", handler.UpdateStatus)
		tickets.PUT(":id/priority", handler.UpdatePriority)
		tickets.PUT(":id/assign", handler.AssignTicket)
		tickets.POST(":id/comments", handler.AddComment)
	}
}
