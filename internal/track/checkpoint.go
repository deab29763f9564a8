package track

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"fleettrack/internal/models"
)

const (
	checkpointKeyPattern = "vehicle:*:state"
	checkpointTTL        = 24 * time.Hour
)

func checkpointKey(vehicleID string) string {
	return fmt.Sprintf("vehicle:%s:state", vehicleID)
}

type checkpointDoc struct {
	VehicleID  string                 `json:"vehicle_id"`
	Latest     *models.LocationSample `json:"latest,omitempty"`
	Inside     map[uint]bool          `json:"inside,omitempty"`
	LastAlerts map[uint]time.Time     `json:"last_alerts,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// RedisCheckpointer persists evaluator state snapshots so a restart
// recovers the latest-per-vehicle view and the containment sets. Writes
// are best-effort; the evaluator never waits on them.
type RedisCheckpointer struct {
	client *redis.Client
	log    *logrus.Entry
}

func NewRedisCheckpointer(client *redis.Client) *RedisCheckpointer {
	return &RedisCheckpointer{
		client: client,
		log:    logrus.WithField("component", "state_checkpoint"),
	}
}

// Run consumes snapshots from the evaluator until the channel closes or
// ctx ends.
func (c *RedisCheckpointer) Run(ctx context.Context, snaps <-chan StateSnapshot) {
	for {
		select {
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			if err := c.save(ctx, snap); err != nil {
				c.log.WithError(err).WithField("vehicle_id", snap.VehicleID).Warn("Checkpoint write failed.")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *RedisCheckpointer) save(ctx context.Context, snap StateSnapshot) error {
	doc := checkpointDoc{
		VehicleID:  snap.VehicleID,
		Latest:     snap.Latest,
		Inside:     snap.Inside,
		LastAlerts: snap.LastAlerts,
		UpdatedAt:  snap.UpdatedAt,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, checkpointKey(snap.VehicleID), raw, checkpointTTL).Err()
}

// RestoreAll scans all checkpointed vehicles into the evaluator. Called
// once at startup before any connection is accepted.
func (c *RedisCheckpointer) RestoreAll(ctx context.Context, eval *Evaluator) (int, error) {
	var restored int
	iter := c.client.Scan(ctx, 0, checkpointKeyPattern, 256).Iterator()
	for iter.Next(ctx) {
		raw, err := c.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return restored, err
		}
		var doc checkpointDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			c.log.WithError(err).WithField("key", iter.Val()).Warn("Skipping unreadable checkpoint.")
			continue
		}
		eval.Restore(StateSnapshot{
			VehicleID:  doc.VehicleID,
			Latest:     doc.Latest,
			Inside:     doc.Inside,
			LastAlerts: doc.LastAlerts,
			UpdatedAt:  doc.UpdatedAt,
		})
		restored++
	}
	return restored, iter.Err()
}
