// handlers.go - HTTP-Handler fuer Completion und Cache-Verwaltung
//
// Enthaelt:
// - CompletionHandler: Streaming-Generierung als ndjson
// - CacheStatsHandler/CacheClearHandler: Pool-Verwaltung
// - HealthHandler: Liveness-Probe

package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mlxserve/mlxserve/llm"
)

// CompletionHandler streamt die Generierung fuer einen Prompt. Trennt der
// Client die Verbindung wird der Request an seinem naechsten Abbruchpunkt
// gestoppt; bereits gestreamte Chunks bleiben gueltig.
func (s *Server) CompletionHandler(c *gin.Context) {
	var req llm.CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ch := make(chan any)
	go func() {
		defer close(ch)

		err := s.svc.Complete(c.Request.Context(), req, func(resp llm.CompletionResponse) bool {
			select {
			case ch <- resp:
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, errEmptyPrompt) || errors.Is(err, errInputTooLong) {
				status = http.StatusBadRequest
			}

			select {
			case ch <- gin.H{"error": err.Error(), "status": status}:
			case <-c.Request.Context().Done():
			}
		}
	}()

	streamResponse(c, ch)
}

func (s *Server) CacheStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.CacheStats())
}

func (s *Server) CacheClearHandler(c *gin.Context) {
	s.svc.ClearCache()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
