package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// BrokerStatus reports whether the message broker connection is up.
type BrokerStatus interface {
	Connected() bool
}

// HealthDeps lists the dependencies checked by /readyz. Nil entries are not configured and skipped.
type HealthDeps struct {
	SQLDB  *sql.DB
	Redis  *redis.Client
	Broker BrokerStatus
}

func RegisterHealthRoutes(app fiber.Router, deps HealthDeps) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(deps))
}

func RegisterMetricsRoute(app fiber.Router, metrics http.Handler) {
	app.Get("/metrics", adaptor.HTTPHandler(metrics))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(deps HealthDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
		defer cancel()

		checks := fiber.Map{}
		ready := true

		check := func(name string, configured bool, healthy func() bool) {
			if !configured {
				return
			}
			if healthy() {
				checks[name] = "ok"
				return
			}
			checks[name] = "down"
			ready = false
		}

		check("redis", deps.Redis != nil, func() bool {
			return deps.Redis.Ping(ctx).Err() == nil
		})
		check("postgres", deps.SQLDB != nil, func() bool {
			return deps.SQLDB.PingContext(ctx) == nil
		})
		check("rabbitmq", deps.Broker != nil, func() bool {
			return deps.Broker.Connected()
		})

		status := "ready"
		statusCode := fiber.StatusOK
		if !ready {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	}
}
