package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListPaymentProviders(c *gin.Context) {
	entries := s.catalog.List()
	providers := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		providers = append(providers, gin.H{
			"provider":     entry.Provider,
			"display_name": entry.DisplayName,
			"enabled":      entry.Enabled,
		})
	}
	c.JSON(http.StatusOK, gin.H{"providers": providers})
}
