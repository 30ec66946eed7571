package usage

import (
	"github.com/gin-gonic/gin"
)

// UnmatchedEndpoint groups requests that matched no route so arbitrary paths
// cannot grow the table.
const UnmatchedEndpoint = "unmatched"

// Middleware records every request handled by a gin engine under its route
// pattern.
func Middleware(c *Collector) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Next()

		endpoint := ctx.FullPath()
		if endpoint == "" {
			endpoint = UnmatchedEndpoint
		}
		c.Record(endpoint, ctx.Writer.Status())
	}
}
