package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrDeviceBusy is returned when another run already holds the device.
var ErrDeviceBusy = errors.New("device has a run in progress")

// releaseScript deletes the lock only while we still own it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// DeviceLockService serializes backup and restore runs per device. At most
// one run holds a device at a time, across both orchestrators.
type DeviceLockService struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewDeviceLockService(redisClient *redis.Client, ttl time.Duration) *DeviceLockService {
	return &DeviceLockService{redis: redisClient, ttl: ttl}
}

// Acquire takes the per-device run lock. The returned release function is
// safe to defer; it only releases the lock if this run still owns it (the
// TTL guards against a crashed holder wedging the device forever).
func (s *DeviceLockService) Acquire(ctx context.Context, deviceID uuid.UUID) (func(), error) {
	key := fmt.Sprintf("device_lock:%s", deviceID)
	token := uuid.NewString()

	ok, err := s.redis.SetNX(ctx, key, token, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire device lock: %w", err)
	}
	if !ok {
		return nil, ErrDeviceBusy
	}

	release := func() {
		// Background context: the run's context may already be cancelled.
		if err := releaseScript.Run(context.Background(), s.redis, []string{key}, token).Err(); err != nil && err != redis.Nil {
			log.Printf("WARN: failed to release device lock %s: %v", key, err)
		}
	}
	return release, nil
}
