package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"copytrade-signals/internal/apierr"
)

// handleIngestRaw accepts an arbitrary upstream-shaped payload through the
// inbound ingest API (spec.md §6 "POST /ingest/raw").
func (s *Server) handleIngestRaw(c *gin.Context) {
	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		errorResponse(c, apierr.Validation("invalid JSON body"))
		return
	}

	raw, err := s.ingestService.AcceptRawPayload(c.Request.Context(), body)
	if err != nil {
		errorResponse(c, apierr.Validation(err.Error()))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": raw})
}

// handleIngestHistory returns a trader's most recent accepted ingests.
func (s *Server) handleIngestHistory(c *gin.Context) {
	leadID := c.Param("leadId")
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	history, err := s.ingestService.History(c.Request.Context(), leadID, limit)
	if err != nil {
		errorResponse(c, err)
		return
	}

	includePayload := c.Query("includePayload") == "true"
	if !includePayload {
		for _, h := range history {
			h.Payload = nil
		}
	}
	successResponse(c, history)
}
