package numberlock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Locker serializes job execution per number across processor instances using
// Redis compare-and-set locks. A held lock means some processor has an
// in-flight job for that number.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
	owner  string
}

// NewLocker constructs a per-number locker. The TTL bounds how long a crashed
// processor can hold a number hostage.
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Locker{client: client, ttl: ttl, owner: uuid.NewString()}
}

// Acquire attempts to take the lock for a number. Returns false when another
// instance holds it.
func (l *Locker) Acquire(ctx context.Context, numberID uuid.UUID) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(numberID), l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("number lock acquire: %w", err)
	}
	return ok, nil
}

// Release frees the lock if this instance still owns it.
func (l *Locker) Release(ctx context.Context, numberID uuid.UUID) error {
	script := redis.NewScript(`
local key = KEYS[1]
if redis.call('GET', key) == ARGV[1] then
  return redis.call('DEL', key)
end
return 0
`)
	if _, err := script.Run(ctx, l.client, []string{l.key(numberID)}, l.owner).Int(); err != nil {
		return fmt.Errorf("number lock release: %w", err)
	}
	return nil
}

func (l *Locker) key(numberID uuid.UUID) string {
	return fmt.Sprintf("numbers:%s:processing", numberID.String())
}
