package handlers

import (
	"net/http"
	"strconv"

	"assetdesk/internal/services"

	"github.com/gin-gonic/gin"
)

// WorkflowHandler 管理自动化流程模板与执行记录
type WorkflowHandler struct {
	service *services.WorkflowService
}

func NewWorkflowHandler(service *services.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{service: service}
}

// ListTemplates 获取流程模板列表
func (h *WorkflowHandler) ListTemplates(c *gin.Context) {
	templates, err := h.service.ListTemplates(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list templates", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, templates)
}

// CreateTemplate 创建流程模板
func (h *WorkflowHandler) CreateTemplate(c *gin.Context) {
	var req services.WorkflowTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	template, err := h.service.CreateTemplate(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create template", Message: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, template)
}

// DeleteTemplate 删除流程模板
func (h *WorkflowHandler) DeleteTemplate(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteTemplate(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if err.Error() == "template not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to delete template", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// ListExecutions 查询执行审计记录，支持按实体过滤
func (h *WorkflowHandler) ListExecutions(c *gin.Context) {
	entityType := c.Query("entity_type")
	var entityID uint
	if idStr := c.Query("entity_id"); idStr != "" {
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid entity_id", Message: err.Error()})
			return
		}
		entityID = uint(id)
	}

	executions, err := h.service.ListExecutions(c.Request.Context(), entityType, entityID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list executions", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, executions)
}

// RegisterWorkflowRoutes 注册路由
func RegisterWorkflowRoutes(r *gin.RouterGroup, handler *WorkflowHandler) {
	workflows := r.Group("/workflows")
	{
		workflows.GET("", handler.ListTemplates)
		workflows.POST("", handler.CreateTemplate)
		workflows.DELETE(":id", handler.DeleteTemplate)
		workflows.GET("/executions", handler.ListExecutions)
	}
}
