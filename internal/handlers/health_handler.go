package handlers

import (
	"net/http"
	"runtime"
	"time"

	"assetdesk/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	db      *gorm.DB
	version string
}

func NewHealthHandler(db *gorm.DB, version string) *HealthHandler {
	return &HealthHandler{db: db, version: version}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status      string        `json:"status"`
	Version     string        `json:"version"`
	GoVersion   string        `json:"go_version"`
	Uptime      time.Duration `json:"uptime"`
	Database    string        `json:"database"`
	DeadLetters int64         `json:"dead_letters"`
	Timestamp   time.Time     `json:"timestamp"`
}

var startTime = time.Now()

// Health 健康检查端点。数据库不可达时返回 503。
func (h *HealthHandler) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:    "ok",
		Version:   h.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(startTime),
		Database:  "ok",
		Timestamp: time.Now(),
	}

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		resp.Status = "degraded"
		resp.Database = err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	// 死信数量只作健康信号展示，不影响状态码
	if err := h.db.WithContext(c.Request.Context()).
		Model(&models.DeadLetter{}).Count(&resp.DeadLetters).Error; err != nil {
		resp.DeadLetters = -1
	}

	c.JSON(http.StatusOK, resp)
}

// RegisterHealthRoutes 注册路由
func RegisterHealthRoutes(r *gin.Engine, handler *HealthHandler) {
	r.GET("/health", handler.Health)
}
