package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/openmined/syftsync/internal/syftmsg"
)

var rateLimitStore = memory.NewStore()

// RateLimiter limits per client IP; formattedRate is limiter syntax, e.g.
// "100-M" for 100 requests per minute.
func RateLimiter(formattedRate string) gin.HandlerFunc {
	rate, err := limiter.NewRateFromFormatted(formattedRate)
	if err != nil {
		panic(err)
	}

	lim := limiter.New(rateLimitStore, rate)
	return mgin.NewMiddleware(
		lim,
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			c.PureJSON(http.StatusTooManyRequests,
				syftmsg.NewAPIError(syftmsg.ErrBadRequest, "rate limit exceeded"))
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			c.PureJSON(http.StatusInternalServerError,
				syftmsg.NewAPIError(syftmsg.ErrInternal, err.Error()))
		}),
	)
}
