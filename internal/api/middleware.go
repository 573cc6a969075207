package api

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edumatch/messaging/internal/auth"
	"github.com/edumatch/messaging/internal/metrics"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// JWTAuth accepts "Authorization: Bearer <jwt>" and, for websocket
// upgrades where browsers cannot set headers, a token query parameter.
func JWTAuth(v TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := ""
		if hdr := c.Get(fiber.HeaderAuthorization); hdr != "" {
			parts := strings.SplitN(hdr, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				return JSONError(c, fiber.StatusUnauthorized, "invalid authorization")
			}
			token = parts[1]
		} else {
			token = c.Query("token")
		}
		if token == "" {
			return JSONError(c, fiber.StatusUnauthorized, "missing authorization")
		}
		claims, err := v.Validate(token)
		if err != nil {
			return JSONError(c, fiber.StatusUnauthorized, "invalid token")
		}
		c.Locals("user_id", claims.Subject)
		c.Locals("role", claims.Role)
		c.Locals("email", claims.Email)
		c.Locals("name", claims.Name)
		return c.Next()
	}
}

func RequestLogger(logger *zap.SugaredLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		latency := time.Since(start)
		status := c.Response().StatusCode()
		if err != nil {
			logger.Errorw("HTTP Request Error",
				"method", c.Method(),
				"path", c.Path(),
				"ip", c.IP(),
				"status", status,
				"latency", latency,
				"error", err,
			)
			return err
		}
		logger.Infow("HTTP Request",
			"method", c.Method(),
			"path", c.Path(),
			"ip", c.IP(),
			"status", status,
			"latency", latency,
		)
		return nil
	}
}

// RequestMetrics counts requests by matched route so ids in paths do not
// explode label cardinality.
func RequestMetrics(m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		m.HTTPRequests.WithLabelValues(c.Method(), c.Route().Path, strconv.Itoa(status)).Inc()
		return err
	}
}

type IPRateLimiter struct {
	visitors sync.Map
	rps      rate.Limit
	burst    int
	log      *zap.SugaredLogger
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// NewIPRateLimiter evicts idle visitors until ctx is cancelled.
func NewIPRateLimiter(ctx context.Context, perMinute int, logger *zap.SugaredLogger) *IPRateLimiter {
	l := &IPRateLimiter{
		rps:   rate.Limit(float64(perMinute) / 60.0),
		burst: 10,
		log:   logger,
	}
	go l.cleanupVisitors(ctx)
	return l
}

func (l *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	v, _ := l.visitors.LoadOrStore(ip, &visitor{limiter: rate.NewLimiter(l.rps, l.burst)})
	vi := v.(*visitor)
	vi.lastSeen.Store(time.Now().UnixNano())
	return vi.limiter
}

func (l *IPRateLimiter) cleanupVisitors(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		cutoff := time.Now().Add(-5 * time.Minute).UnixNano()
		l.visitors.Range(func(k, v interface{}) bool {
			if v.(*visitor).lastSeen.Load() < cutoff {
				l.visitors.Delete(k)
			}
			return true
		})
	}
}

func (l *IPRateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := getIP(c)
		if !l.getLimiter(ip).Allow() {
			l.log.Warnw("rate limit exceeded", "ip", ip, "path", c.Path())
			return JSONError(c, fiber.StatusTooManyRequests, "rate limit exceeded")
		}
		return c.Next()
	}
}

func getIP(c *fiber.Ctx) string {
	ip := c.IP()
	if ip == "" {
		ip = "unknown"
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}

// RedisRateLimiter is a fixed-window counter shared by every instance.
type RedisRateLimiter struct {
	Redis  *redis.Client
	Prefix string
	Limit  int
	Window time.Duration
}

func NewRedisRateLimiter(r *redis.Client, prefix string, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{Redis: r, Prefix: prefix, Limit: limit, Window: window}
}

func (r *RedisRateLimiter) MiddlewareByKey(keyFunc func(c *fiber.Ctx) string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		redisKey := fmt.Sprintf("%s:%s", r.Prefix, keyFunc(c))
		count, err := r.Redis.Incr(ctx, redisKey).Result()
		if err != nil {
			return JSONError(c, fiber.StatusInternalServerError, "rate limiter error")
		}
		if count == 1 {
			r.Redis.Expire(ctx, redisKey, r.Window)
		}
		if count > int64(r.Limit) {
			return JSONError(c, fiber.StatusTooManyRequests, "rate limit exceeded")
		}
		return c.Next()
	}
}
