package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	appctx "stockledger/internal/core/context"
)

// HeaderActorID carries the caller identity set by the authenticating gateway.
const HeaderActorID = "X-Actor-ID"

// Actor copies the gateway-provided actor into the request context.
// Requests without the header pass through; the guard rejects writes that
// end up with no actor.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actorID := strings.TrimSpace(c.GetHeader(HeaderActorID)); actorID != "" {
			ctx := appctx.WithActor(c.Request.Context(), &appctx.ActorContext{
				ActorID: actorID,
				Source:  "http",
			})
			c.Request = c.Request.WithContext(ctx)
			c.Set("actor_id", actorID)
		}
		c.Next()
	}
}
