package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"assetdesk/internal/config"
	"assetdesk/internal/messaging"
	"assetdesk/internal/models"
	"assetdesk/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newHandlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.User{},
		&models.Asset{},
		&models.Ticket{},
		&models.TicketComment{},
		&models.Notification{},
		&models.DeadLetter{},
		&models.WorkflowTemplate{},
		&models.WorkflowExecution{},
		&models.AssignmentRule{},
		&models.SLAPolicy{},
		&models.TicketSLA{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWorkflowHandler_CreateListDelete(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db := newHandlerTestDB(t)
	logger := quietLogger()
	executor := services.NewActionExecutor(db, logger, services.NewNotificationService(db, logger), &messaging.NoopGateway{})
	svc := services.NewWorkflowService(db, logger, executor)

	r := gin.New()
	api := r.Group("/api")
	RegisterWorkflowRoutes(api, NewWorkflowHandler(svc))

	w := doJSON(t, r, http.MethodPost, "/api/workflows", map[string]any{
		"name":        "escalate printers",
		"entity_type": "ticket",
		"trigger":     "created",
		"conditions":  []map[string]any{{"field": "category", "operator": "equals", "value": "hardware"}},
		"actions":     []map[string]any{{"type": "change_priority", "params": map[string]any{"priority": "high"}}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", w.Code, w.Body.String())
	}
	var created models.WorkflowTemplate
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal create: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected created template id")
	}

	// 未知动作类型在创建时被拒绝
	w2 := doJSON(t, r, http.MethodPost, "/api/workflows", map[string]any{
		"name":        "bad",
		"entity_type": "ticket",
		"trigger":     "created",
		"actions":     []map[string]any{{"type": "explode"}},
	})
	if w2.Code != http.StatusBadRequest {
		t.Fatalf("invalid action status=%d, want 400", w2.Code)
	}

	w3 := doJSON(t, r, http.MethodGet, "/api/workflows", nil)
	if w3.Code != http.StatusOK {
		t.Fatalf("list status=%d body=%s", w3.Code, w3.Body.String())
	}
	var templates []models.WorkflowTemplate
	if err := json.Unmarshal(w3.Body.Bytes(), &templates); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(templates) != 1 {
		t.Fatalf("got %d templates, want 1", len(templates))
	}

	w4 := doJSON(t, r, http.MethodDelete, fmt.Sprintf("/api/workflows/%d", created.ID), nil)
	if w4.Code != http.StatusOK {
		t.Fatalf("delete status=%d body=%s", w4.Code, w4.Body.String())
	}
	w5 := doJSON(t, r, http.MethodDelete, fmt.Sprintf("/api/workflows/%d", created.ID), nil)
	if w5.Code != http.StatusNotFound {
		t.Fatalf("double delete status=%d, want 404", w5.Code)
	}
}

func TestAssignmentHandler_RulesAndResolve(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db := newHandlerTestDB(t)
	logger := quietLogger()
	svc := services.NewAssignmentService(db, logger)

	creator := &models.User{Username: "alice", Email: "alice@example.com", Role: "user"}
	tech := &models.User{Username: "bob", Email: "bob@example.com", Role: "technician", Available: true}
	if err := db.Create(creator).Error; err != nil {
		t.Fatalf("seed creator: %v", err)
	}
	if err := db.Create(tech).Error; err != nil {
		t.Fatalf("seed technician: %v", err)
	}
	ticket := &models.Ticket{Title: "broken laptop", CreatedByID: creator.ID, Priority: "high", Status: "open"}
	if err := db.Create(ticket).Error; err != nil {
		t.Fatalf("seed ticket: %v", err)
	}

	r := gin.New()
	api := r.Group("/api")
	RegisterAssignmentRoutes(api, NewAssignmentHandler(svc))

	w := doJSON(t, r, http.MethodPost, "/api/assignment-rules", map[string]any{
		"name":            "least busy",
		"assignment_type": "least_busy",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create rule status=%d body=%s", w.Code, w.Body.String())
	}

	w2 := doJSON(t, r, http.MethodPost, "/api/assignment-rules", map[string]any{
		"name":            "bad",
		"assignment_type": "dice_roll",
	})
	if w2.Code != http.StatusBadRequest {
		t.Fatalf("invalid rule status=%d, want 400", w2.Code)
	}

	w3 := doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/tickets/%d/auto-assign", ticket.ID), nil)
	if w3.Code != http.StatusOK {
		t.Fatalf("auto-assign status=%d body=%s", w3.Code, w3.Body.String())
	}

	var reloaded models.Ticket
	if err := db.First(&reloaded, ticket.ID).Error; err != nil {
		t.Fatalf("reload ticket: %v", err)
	}
	if reloaded.AssignedToID == nil || *reloaded.AssignedToID != tech.ID {
		t.Fatal("auto-assign endpoint must assign the ticket")
	}

	w4 := doJSON(t, r, http.MethodGet, "/api/assignment-rules/stats", nil)
	if w4.Code != http.StatusOK {
		t.Fatalf("stats status=%d body=%s", w4.Code, w4.Body.String())
	}
}

func TestSLAHandler_PoliciesAndSweep(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db := newHandlerTestDB(t)
	logger := quietLogger()
	notifier := services.NewNotificationService(db, logger)
	svc := services.NewSLAService(db, logger, notifier, &messaging.NoopGateway{}, config.SLAConfig{})

	r := gin.New()
	api := r.Group("/api")
	RegisterSLARoutes(api, NewSLAHandler(svc))

	w := doJSON(t, r, http.MethodPost, "/api/sla/policies", map[string]any{
		"name":                    "critical",
		"priority":                "critical",
		"response_time_minutes":   15,
		"resolution_time_minutes": 120,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create policy status=%d body=%s", w.Code, w.Body.String())
	}

	// 同优先级的第二条启用策略被拒绝
	w2 := doJSON(t, r, http.MethodPost, "/api/sla/policies", map[string]any{
		"name":                    "critical again",
		"priority":                "critical",
		"response_time_minutes":   15,
		"resolution_time_minutes": 120,
	})
	if w2.Code != http.StatusBadRequest {
		t.Fatalf("duplicate policy status=%d, want 400", w2.Code)
	}

	w3 := doJSON(t, r, http.MethodGet, "/api/sla/policies", nil)
	if w3.Code != http.StatusOK {
		t.Fatalf("list status=%d body=%s", w3.Code, w3.Body.String())
	}

	w4 := doJSON(t, r, http.MethodPost, "/api/sla/sweep", nil)
	if w4.Code != http.StatusOK {
		t.Fatalf("sweep status=%d body=%s", w4.Code, w4.Body.String())
	}

	w5 := doJSON(t, r, http.MethodGet, "/api/sla/stats", nil)
	if w5.Code != http.StatusOK {
		t.Fatalf("stats status=%d body=%s", w5.Code, w5.Body.String())
	}
	var stats services.SLAStatsResponse
	if err := json.Unmarshal(w5.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.ActivePolicies != 1 {
		t.Fatalf("active policies = %d, want 1", stats.ActivePolicies)
	}
}

func TestTicketHandler_Lifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db := newHandlerTestDB(t)
	logger := quietLogger()
	notifier := services.NewNotificationService(db, logger)
	executor := services.NewActionExecutor(db, logger, notifier, &messaging.NoopGateway{})
	workflows := services.NewWorkflowService(db, logger, executor)
	assignment := services.NewAssignmentService(db, logger)
	sla := services.NewSLAService(db, logger, notifier, &messaging.NoopGateway{}, config.SLAConfig{})
	dispatcher := services.NewDispatcher(db, logger, config.AutomationConfig{})
	svc := services.NewTicketService(db, logger, workflows, assignment, sla, dispatcher)

	creator := &models.User{Username: "alice", Email: "alice@example.com", Role: "user"}
	if err := db.Create(creator).Error; err != nil {
		t.Fatalf("seed creator: %v", err)
	}

	r := gin.New()
	api := r.Group("/api")
	RegisterTicketRoutes(api, NewTicketHandler(svc))

	w := doJSON(t, r, http.MethodPost, "/api/tickets", map[string]any{
		"title":         "screen flickers",
		"created_by_id": creator.ID,
		"priority":      "high",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", w.Code, w.Body.String())
	}
	var created models.Ticket
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal create: %v", err)
	}
	dispatcher.Wait()

	w2 := doJSON(t, r, http.MethodPut, fmt.Sprintf("/api/tickets/%d/status", created.ID), map[string]any{
		"status": "in_progress",
	})
	if w2.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", w2.Code, w2.Body.String())
	}
	dispatcher.Wait()

	w3 := doJSON(t, r, http.MethodPut, fmt.Sprintf("/api/tickets/%d/status", created.ID), map[string]any{
		"status": "archived",
	})
	if w3.Code != http.StatusBadRequest {
		t.Fatalf("bad status code=%d, want 400", w3.Code)
	}

	w4 := doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/tickets/%d", created.ID), nil)
	if w4.Code != http.StatusOK {
		t.Fatalf("get status=%d body=%s", w4.Code, w4.Body.String())
	}
	var fetched models.Ticket
	if err := json.Unmarshal(w4.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("unmarshal get: %v", err)
	}
	if fetched.Status != "in_progress" {
		t.Fatalf("status = %s, want in_progress", fetched.Status)
	}

	w5 := doJSON(t, r, http.MethodGet, "/api/tickets/99999", nil)
	if w5.Code != http.StatusNotFound {
		t.Fatalf("missing ticket status=%d, want 404", w5.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db := newHandlerTestDB(t)
	r := gin.New()
	RegisterHealthRoutes(r, NewHealthHandler(db, "test"))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("health status=%d body=%s", w.Code, w.Body.String())
	}
	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if resp.Status != "ok" || resp.Database != "ok" {
		t.Fatalf("health = %+v", resp)
	}
}

func TestMetricsHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	api := r.Group("/api")
	RegisterMetricsRoutes(api, NewMetricsHandler())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/metrics/automation", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status=%d body=%s", w.Code, w.Body.String())
	}
	var resp MetricsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal metrics: %v", err)
	}
}
