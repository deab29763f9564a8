package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// HealthController reports liveness of the service's backing stores.
// Redis and the broker are optional and reported as "disabled" when not
// configured.
type HealthController struct {
	db    *gorm.DB
	redis *redis.Client
	amqp  *amqp.Connection
}

func NewHealthController(db *gorm.DB, rdb *redis.Client, mq *amqp.Connection) *HealthController {
	return &HealthController{db: db, redis: rdb, amqp: mq}
}

func (ctl *HealthController) Healthz(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	dbStatus := "ok"
	if sqlDB, err := ctl.db.DB(); err != nil {
		dbStatus = "error: " + err.Error()
		healthy = false
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus = "error: " + err.Error()
		healthy = false
	}
	checks["database"] = dbStatus

	redisStatus := "disabled"
	if ctl.redis != nil {
		redisStatus = "ok"
		if err := ctl.redis.Ping(c.Request.Context()).Err(); err != nil {
			redisStatus = "error: " + err.Error()
			healthy = false
		}
	}
	checks["redis"] = redisStatus

	brokerStatus := "disabled"
	if ctl.amqp != nil {
		brokerStatus = "ok"
		if ctl.amqp.IsClosed() {
			brokerStatus = "error: connection closed"
			healthy = false
		}
	}
	checks["broker"] = brokerStatus

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	c.JSON(status, gin.H{
		"status": overall,
		"time":   time.Now().UTC().Format(time.RFC3339),
		"checks": checks,
	})
}
