package rtp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/logging"
)

// PortAllocator hands out UDP ports from a configured range, one per call.
type PortAllocator interface {
	Allocate(ctx context.Context) (int, error)
	Release(port int)
}

// LocalPortAllocator is an in-process free-set allocator, sufficient for a
// single engine instance.
type LocalPortAllocator struct {
	mu        sync.Mutex
	free      map[int]struct{}
	rangeLow  int
	rangeHigh int
}

// NewLocalPortAllocator builds an allocator over the even ports in
// [low, high), matching RTP/RTCP pairing convention (RTCP uses the next
// odd port).
func NewLocalPortAllocator(low, high int) *LocalPortAllocator {
	if low%2 != 0 {
		low++
	}
	free := make(map[int]struct{}, (high-low)/2)
	for p := low; p < high; p += 2 {
		free[p] = struct{}{}
	}
	return &LocalPortAllocator{free: free, rangeLow: low, rangeHigh: high}
}

func (a *LocalPortAllocator) Allocate(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for p := range a.free {
		delete(a.free, p)
		return p, nil
	}
	return 0, fmt.Errorf("rtp: no free port in range %d-%d", a.rangeLow, a.rangeHigh)
}

func (a *LocalPortAllocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free[port] = struct{}{}
}

// Redis key layout for the distributed allocator. The hash tag keeps both
// keys on the same Redis Cluster slot so the Lua scripts below can touch
// them atomically.
const (
	redisAvailableKey    = "{voiceagent:rtp}:available"
	redisAllocatedPrefix = "{voiceagent:rtp}:allocated:"
	redisAllocatedTTL    = 10 * time.Minute
)

var redisInitScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
	for i = 1, #ARGV do
		redis.call('SADD', key, ARGV[i])
	end
	return #ARGV
end
return 0
`)

var redisAllocateScript = redis.NewScript(`
local port = redis.call('SPOP', KEYS[1])
if port == false then
	return -1
end
redis.call('SADD', KEYS[2], port)
return port
`)

var redisReleaseScript = redis.NewScript(`
redis.call('SREM', KEYS[2], ARGV[1])
redis.call('SADD', KEYS[1], ARGV[1])
return 1
`)

// RedisPortAllocator distributes RTP ports across multiple engine
// instances sharing one Redis. Crash recovery is handled by tagging each
// instance's allocations with an expiring set and reclaiming them on
// startup.
type RedisPortAllocator struct {
	client     *redis.Client
	logger     logging.Logger
	instanceID string
}

// NewRedisPortAllocator builds the distributed allocator and seeds the
// available-ports set over [low, high) if it doesn't already exist.
func NewRedisPortAllocator(ctx context.Context, client *redis.Client, logger logging.Logger, instanceID string, low, high int) (*RedisPortAllocator, error) {
	if logger == nil {
		logger = logging.NoOp{}
	}
	a := &RedisPortAllocator{client: client, logger: logger, instanceID: instanceID}

	if low%2 != 0 {
		low++
	}
	ports := make([]interface{}, 0, (high-low)/2)
	for p := low; p < high; p += 2 {
		ports = append(ports, p)
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("rtp: empty port range %d-%d", low, high)
	}

	added, err := redisInitScript.Run(ctx, client, []string{redisAvailableKey}, ports...).Int()
	if err != nil {
		return nil, fmt.Errorf("rtp: seed port pool: %w", err)
	}
	if added > 0 {
		logger.Info("seeded distributed rtp port pool", "ports", added)
	}

	a.reclaim(ctx)
	return a, nil
}

func (a *RedisPortAllocator) instanceKey() string {
	return redisAllocatedPrefix + a.instanceID
}

func (a *RedisPortAllocator) Allocate(ctx context.Context) (int, error) {
	res, err := redisAllocateScript.Run(ctx, a.client, []string{redisAvailableKey, a.instanceKey()}).Int()
	if err != nil {
		return 0, fmt.Errorf("rtp: allocate port: %w", err)
	}
	if res == -1 {
		return 0, fmt.Errorf("rtp: no ports available")
	}
	a.client.Expire(ctx, a.instanceKey(), redisAllocatedTTL)
	return res, nil
}

func (a *RedisPortAllocator) Release(port int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := redisReleaseScript.Run(ctx, a.client, []string{redisAvailableKey, a.instanceKey()}, port).Result(); err != nil {
		a.logger.Error("release rtp port failed", "port", port, "error", err)
	}
}

// reclaim moves any ports left allocated under this instance's key (from a
// prior crash under the same instanceID) back into the available pool.
func (a *RedisPortAllocator) reclaim(ctx context.Context) {
	ports, err := a.client.SMembers(ctx, a.instanceKey()).Result()
	if err != nil || len(ports) == 0 {
		return
	}
	for _, p := range ports {
		a.client.SMove(ctx, a.instanceKey(), redisAvailableKey, p)
	}
	a.logger.Warn("reclaimed rtp ports from previous instance", "count", len(ports), "instance", a.instanceID)
}
