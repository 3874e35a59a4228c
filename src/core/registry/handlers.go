package registry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// handleRoot returns basic registry identity information.
func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": s.config.RegistryName,
		"status":  "running",
		"uptime":  int(time.Since(s.startTime).Seconds()),
	})
}

// handleHealth reports registry liveness, independent of agent health.
func (s *Server) handleHealth(c *gin.Context) {
	health := s.service.Health(c.Request.Context())
	status := http.StatusOK
	if health["status"] != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

func (s *Server) handleRegisterAgent(c *gin.Context) {
	var req AgentRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Detail: "Invalid request body: " + err.Error(),
		})
		return
	}

	resp, err := s.service.RegisterAgent(c.Request.Context(), &req)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	var req HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Detail: "Invalid request body: " + err.Error(),
		})
		return
	}

	resp, err := s.service.Heartbeat(c.Request.Context(), &req)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListAgents(c *gin.Context) {
	var params AgentQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Detail: "Invalid query parameters: " + err.Error(),
		})
		return
	}

	resp, err := s.service.ListAgents(c.Request.Context(), &params)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetAgent(c *gin.Context) {
	agent, err := s.service.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) handleUnregisterAgent(c *gin.Context) {
	if err := s.service.UnregisterAgent(c.Request.Context(), c.Param("id")); err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSearchCapabilities(c *gin.Context) {
	var params CapabilityQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Detail: "Invalid query parameters: " + err.Error(),
		})
		return
	}

	// Comma-separated, all required (AND semantics).
	if raw := c.Query("tags"); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				params.Tags = append(params.Tags, tag)
			}
		}
	}
	if params.AgentStatus == "" {
		params.AgentStatus = StatusHealthy
	}

	resp, err := s.service.SearchCapabilities(c.Request.Context(), &params)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListEvents(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Detail: "Invalid limit parameter: " + raw,
			})
			return
		}
		limit = parsed
	}

	resp, err := s.service.ListEvents(c.Request.Context(), limit)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// writeServiceError maps service-layer errors onto HTTP statuses:
// validation failures are 400, missing resources 404, store timeouts 503,
// anything else 500.
func (s *Server) writeServiceError(c *gin.Context, err error) {
	var validationErr ValidationError
	var notFoundErr *NotFoundError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: validationErr.Error()})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, ErrorResponse{Detail: notFoundErr.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Detail: "Registry store unavailable: " + err.Error()})
	default:
		s.logger.Error("Request failed: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: err.Error()})
	}
}
