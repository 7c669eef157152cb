package server

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const orgContextKey = "org_id"

// RequestLogMiddleware emits one structured line per request.
func RequestLogMiddleware(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.Last().Error()))
		}
		if c.Writer.Status() >= 500 {
			log.Error("request", fields...)
			return
		}
		log.Info("request", fields...)
	}
}

// OrgContext resolves the acting company from the X-Org-ID header.
// Authentication itself sits in front of this service.
func (s *Server) OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := snowflake.ParseString(c.GetHeader("X-Org-ID"))
		if err != nil || id == 0 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		c.Set(orgContextKey, id)
		c.Next()
	}
}

func orgID(c *gin.Context) snowflake.ID {
	value, ok := c.Get(orgContextKey)
	if !ok {
		return 0
	}
	id, _ := value.(snowflake.ID)
	return id
}

func parseIDParam(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param(name))
	if err != nil || id == 0 {
		AbortWithError(c, ErrInvalidRequest)
		return 0, false
	}
	return id, true
}
