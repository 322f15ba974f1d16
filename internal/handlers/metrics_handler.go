package handlers

import (
	"net/http"

	"assetdesk/internal/metrics"

	"github.com/gin-gonic/gin"
)

// MetricsHandler 自动化引擎运行计数的只读出口
type MetricsHandler struct{}

func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// MetricsResponse 引擎计数快照
type MetricsResponse struct {
	Workflows   MetricsGroup `json:"workflows"`
	Assignments MetricsGroup `json:"assignments"`
	SLA         MetricsGroup `json:"sla"`
}

type MetricsGroup struct {
	Total uint64            `json:"total"`
	By    map[string]uint64 `json:"by"`
}

// GetMetrics 返回自进程启动以来的引擎计数
func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	wfTotal, wfBy := metrics.WorkflowSnapshot()
	asTotal, asBy := metrics.AssignmentSnapshot()
	slaTotal, slaBy := metrics.SLASnapshot()

	c.JSON(http.StatusOK, MetricsResponse{
		Workflows:   MetricsGroup{Total: wfTotal, By: wfBy},
		Assignments: MetricsGroup{Total: asTotal, By: asBy},
		SLA:         MetricsGroup{Total: slaTotal, By: slaBy},
	})
}

// RegisterMetricsRoutes 注册路由
func RegisterMetricsRoutes(r *gin.RouterGroup, handler *MetricsHandler) {
	r.GET("/metrics/automation", handler.GetMetrics)
}
