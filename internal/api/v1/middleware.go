package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/NexusGPU/reserva/internal/model"
)

const actorKey = "reserva.actor"

// resolveActor turns the trusted account header into a model.User and aborts
// unauthenticated requests.
func (a *API) resolveActor(c *gin.Context) {
	account := c.GetHeader(UserHeader)
	if account == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + UserHeader + " header"})
		return
	}
	user, err := a.store.Users.GetByAccount(c.Request.Context(), account)
	if err != nil {
		if model.IsNotFound(err) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
			return
		}
		a.writeError(c, err)
		c.Abort()
		return
	}
	c.Set(actorKey, *user)
	c.Next()
}

// adminOnly rejects non-admin actors before the handler runs. The booking
// service re-checks; this just gives a clean 403 at the edge.
func (a *API) adminOnly(c *gin.Context) {
	if !actor(c).IsAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "administrator rights required"})
		return
	}
	c.Next()
}

func actor(c *gin.Context) model.User {
	return c.MustGet(actorKey).(model.User)
}

// rateLimit applies a process-wide token bucket to every request.
func rateLimit(rps float64, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
