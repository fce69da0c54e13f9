// internal/web/handlers.go - host, rule and history endpoints
package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"monite/internal/database"
	"monite/internal/drivers"
	"monite/internal/monitoring"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

var validate = validator.New()

type HostRequest struct {
	Name          string `json:"name" binding:"required"`
	IP            string `json:"ip" binding:"required"`
	Port          int    `json:"port" binding:"gte=0,lte=65535"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	RouterType    string `json:"router_type" binding:"required"`
	Enabled       bool   `json:"enabled"`
	NotifyEnabled bool   `json:"notify_enabled"`
}

type RuleRequest struct {
	HostID            int64                  `json:"host_id" binding:"required"`
	ActionKey         string                 `json:"action_key" binding:"required"`
	Schedule          string                 `json:"schedule" binding:"required"`
	Enabled           bool                   `json:"enabled"`
	RetryEnabled      bool                   `json:"retry_enabled"`
	MaxAttempts       int                    `json:"max_attempts" binding:"gte=0,lte=10"`
	RetryDelayMinutes int                    `json:"retry_delay_minutes" binding:"gte=0,lte=1440"`
	TelegramEnabled   bool                   `json:"telegram_enabled"`
	Params            map[string]interface{} `json:"params"`
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}

// storeError maps store failures onto HTTP responses.
func storeError(c *gin.Context, err error, what string) {
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
		return
	}
	logrus.WithError(err).WithField("resource", what).Error("Store operation failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to access " + what})
}

// GET /api/hosts
func (s *Server) getHosts(c *gin.Context) {
	hosts, err := s.store.ListHosts(c.Request.Context())
	if err != nil {
		storeError(c, err, "hosts")
		return
	}

	for i := range hosts {
		hosts[i].Password = ""
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  hosts,
		"count": len(hosts),
	})
}

func (s *Server) getHost(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	host, err := s.store.GetHost(c.Request.Context(), id)
	if err != nil {
		storeError(c, err, "host")
		return
	}
	host.Password = ""

	c.JSON(http.StatusOK, gin.H{"data": host})
}

func (s *Server) bindHost(c *gin.Context) (*HostRequest, bool) {
	var req HostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	if _, err := s.engine.Registry().Resolve(req.RouterType); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	req.RouterType = drivers.NormalizeType(req.RouterType)
	return &req, true
}

func (req *HostRequest) apply(host *database.Host) {
	host.Name = req.Name
	host.IP = req.IP
	host.Port = req.Port
	host.Username = req.Username
	if req.Password != "" {
		host.Password = req.Password
	}
	host.RouterType = req.RouterType
	host.Enabled = req.Enabled
	host.NotifyEnabled = req.NotifyEnabled
}

// POST /api/hosts
func (s *Server) createHost(c *gin.Context) {
	req, ok := s.bindHost(c)
	if !ok {
		return
	}

	host := &database.Host{}
	req.apply(host)

	if err := s.store.CreateHost(c.Request.Context(), host); err != nil {
		storeError(c, err, "host")
		return
	}

	logrus.WithFields(logrus.Fields{
		"host_id":     host.ID,
		"router_type": host.RouterType,
	}).Info("Host created")

	host.Password = ""
	c.JSON(http.StatusCreated, gin.H{"data": host})
}

// PUT /api/hosts/:id - an empty password keeps the stored one
func (s *Server) updateHost(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	req, ok := s.bindHost(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	host, err := s.store.GetHost(ctx, id)
	if err != nil {
		storeError(c, err, "host")
		return
	}
	req.apply(host)

	if err := s.store.UpdateHost(ctx, host); err != nil {
		storeError(c, err, "host")
		return
	}

	host.Password = ""
	c.JSON(http.StatusOK, gin.H{"data": host})
}

// DELETE /api/hosts/:id - also removes the host's rules and their jobs
func (s *Server) deleteHost(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ruleIDs, err := s.store.DeleteHost(c.Request.Context(), id)
	if err != nil {
		storeError(c, err, "host")
		return
	}
	s.engine.ForgetHost(id, ruleIDs)

	logrus.WithFields(logrus.Fields{
		"host_id":       id,
		"rules_removed": len(ruleIDs),
	}).Info("Host deleted")

	c.JSON(http.StatusOK, gin.H{"message": "Host deleted", "rules_removed": ruleIDs})
}

// GET /api/hosts/:id/actions
func (s *Server) getHostActions(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	host, err := s.store.GetHost(c.Request.Context(), id)
	if err != nil {
		storeError(c, err, "host")
		return
	}

	driver, err := s.engine.Registry().ForHost(host)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": driver.SupportedActions()})
}

// POST /api/hosts/:id/actions/:action - runs once, without retry
func (s *Server) runHostAction(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var params map[string]interface{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&params); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	run, err := s.engine.RunAction(c.Request.Context(), id, c.Param("action"), params)
	switch {
	case errors.Is(err, monitoring.ErrHostDisabled):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case monitoring.IsPersistenceError(err):
		logrus.WithError(err).WithField("host_id", id).Error("Manual action could not be recorded")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Action ran but could not be recorded", "data": run})
		return
	case err != nil:
		storeError(c, err, "host")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": run})
}

// POST /api/hosts/:id/health
func (s *Server) checkHostHealth(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	rec, err := s.engine.CheckHost(c.Request.Context(), id)
	if monitoring.IsPersistenceError(err) {
		logrus.WithError(err).WithField("host_id", id).Error("Health check could not be recorded")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Health check could not be recorded"})
		return
	}
	if err != nil {
		storeError(c, err, "host")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rec})
}

// GET /api/rules
func (s *Server) getRules(c *gin.Context) {
	rules, err := s.store.ListRules(c.Request.Context())
	if err != nil {
		storeError(c, err, "rules")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  rules,
		"count": len(rules),
	})
}

func (s *Server) getRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	rule, err := s.store.GetRule(c.Request.Context(), id)
	if err != nil {
		storeError(c, err, "rule")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rule})
}

// bindRule validates the request against the scheduler and the target
// host's driver.
func (s *Server) bindRule(c *gin.Context) (*RuleRequest, bool) {
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}

	if err := s.engine.Scheduler().ValidateSchedule(req.Schedule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}

	host, err := s.store.GetHost(c.Request.Context(), req.HostID)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Host not found"})
		return nil, false
	}
	if err != nil {
		storeError(c, err, "host")
		return nil, false
	}

	driver, err := s.engine.Registry().ForHost(host)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	if !drivers.Supports(driver, req.ActionKey) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Action " + req.ActionKey + " is not supported by " + host.RouterType})
		return nil, false
	}

	req.ActionKey = drivers.NormalizeAction(req.ActionKey)
	return &req, true
}

func (req *RuleRequest) apply(rule *database.AutomationRule) {
	rule.HostID = req.HostID
	rule.ActionKey = req.ActionKey
	rule.Schedule = req.Schedule
	rule.Enabled = req.Enabled
	rule.RetryEnabled = req.RetryEnabled
	rule.MaxAttempts = req.MaxAttempts
	rule.RetryDelayMinutes = req.RetryDelayMinutes
	rule.TelegramEnabled = req.TelegramEnabled
	rule.Params = req.Params
}

// POST /api/rules
func (s *Server) createRule(c *gin.Context) {
	req, ok := s.bindRule(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	rule := &database.AutomationRule{}
	req.apply(rule)

	if err := s.store.CreateRule(ctx, rule); err != nil {
		storeError(c, err, "rule")
		return
	}

	if err := s.engine.Scheduler().AddOrUpdateRuleJob(ctx, rule.ID); err != nil {
		logrus.WithError(err).WithField("rule_id", rule.ID).Error("Failed to schedule rule")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Rule saved but not scheduled", "data": rule})
		return
	}

	logrus.WithFields(logrus.Fields{
		"rule_id":  rule.ID,
		"host_id":  rule.HostID,
		"schedule": rule.Schedule,
	}).Info("Rule created")

	c.JSON(http.StatusCreated, gin.H{"data": rule})
}

// PUT /api/rules/:id
func (s *Server) updateRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	req, ok := s.bindRule(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		storeError(c, err, "rule")
		return
	}
	req.apply(rule)

	if err := s.store.UpdateRule(ctx, rule); err != nil {
		storeError(c, err, "rule")
		return
	}

	if err := s.engine.Scheduler().AddOrUpdateRuleJob(ctx, rule.ID); err != nil {
		logrus.WithError(err).WithField("rule_id", rule.ID).Error("Failed to reschedule rule")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Rule saved but not scheduled", "data": rule})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rule})
}

// DELETE /api/rules/:id
func (s *Server) deleteRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := s.store.DeleteRule(c.Request.Context(), id); err != nil {
		storeError(c, err, "rule")
		return
	}
	s.engine.Scheduler().RemoveRuleJob(id)

	c.JSON(http.StatusOK, gin.H{"message": "Rule deleted"})
}

// historyQuery reads the filters shared by both history endpoints.
func historyQuery(c *gin.Context) (hostID int64, since time.Time, limit int, ok bool) {
	limit = defaultHistoryLimit

	if v := c.Query("host_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid host_id"})
			return 0, time.Time{}, 0, false
		}
		hostID = id
	}

	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid since, expected RFC3339"})
			return 0, time.Time{}, 0, false
		}
		since = t
	}

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return 0, time.Time{}, 0, false
		}
		limit = n
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	return hostID, since, limit, true
}

// GET /api/history/runs
func (s *Server) getActionRuns(c *gin.Context) {
	hostID, since, limit, ok := historyQuery(c)
	if !ok {
		return
	}

	filters := database.RunFilters{
		HostID: hostID,
		Status: database.RunStatus(c.Query("status")),
		Since:  since,
		Limit:  limit,
	}
	if v := c.Query("rule_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule_id"})
			return
		}
		filters.RuleID = id
	}

	runs, err := s.store.ListActionRuns(c.Request.Context(), filters)
	if err != nil {
		storeError(c, err, "action runs")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  runs,
		"count": len(runs),
	})
}

// GET /api/history/health
func (s *Server) getHealthHistory(c *gin.Context) {
	hostID, since, limit, ok := historyQuery(c)
	if !ok {
		return
	}

	records, err := s.store.ListHealthRecords(c.Request.Context(), database.HealthFilters{
		HostID: hostID,
		Status: database.HostStatus(c.Query("status")),
		Since:  since,
		Limit:  limit,
	})
	if err != nil {
		storeError(c, err, "health records")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  records,
		"count": len(records),
	})
}

// GET /api/drivers
func (s *Server) getDrivers(c *gin.Context) {
	registry := s.engine.Registry()
	result := make(map[string][]string)

	for _, t := range registry.Types() {
		driver, err := registry.Resolve(t)
		if err != nil {
			continue
		}
		result[t] = driver.SupportedActions()
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
