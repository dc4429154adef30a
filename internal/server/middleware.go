package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/seatledger/internal/orgcontext"
	"go.uber.org/zap"
)

const (
	HeaderBusinessID = "X-Business-ID"
	HeaderActorID    = "X-Actor-ID"
	HeaderActorRole  = "X-Actor-Role"

	contextBusinessIDKey = "business_id"
	contextActorKey      = "actor"
)

// RequestScope reads the identity forwarded by the upstream gateway and puts
// the business and actor on the request context.
func (s *Server) RequestScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessID, err := snowflake.ParseString(strings.TrimSpace(c.GetHeader(HeaderBusinessID)))
		if err != nil || businessID <= 0 {
			AbortWithError(c, ErrInvalidScope)
			return
		}

		actorID := strings.TrimSpace(c.GetHeader(HeaderActorID))
		if actorID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		role := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderActorRole)))
		if role == "" {
			role = orgcontext.RoleMember
		}
		actor := orgcontext.Actor{ID: actorID, Role: role}

		ctx := orgcontext.WithBusinessID(c.Request.Context(), businessID)
		ctx = orgcontext.WithActor(ctx, actor)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextBusinessIDKey, businessID)
		c.Set(contextActorKey, actor)
		c.Next()
	}
}

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessID, actor := requestScope(c)
		if err := s.authzSvc.Authorize(c.Request.Context(), actor, businessID, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) publicRateLimit(route string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.publicLimiter == nil {
			c.Next()
			return
		}
		res, err := s.publicLimiter.Allow(c.Request.Context(), route, c.ClientIP())
		if err != nil {
			s.log.Warn("public rate limit unavailable", zap.String("route", route), zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func requestScope(c *gin.Context) (snowflake.ID, orgcontext.Actor) {
	var (
		businessID snowflake.ID
		actor      orgcontext.Actor
	)
	if v, ok := c.Get(contextBusinessIDKey); ok {
		businessID, _ = v.(snowflake.ID)
	}
	if v, ok := c.Get(contextActorKey); ok {
		actor, _ = v.(orgcontext.Actor)
	}
	return businessID, actor
}
