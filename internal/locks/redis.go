package locks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dialTimeout = 3 * time.Second
	readTimeout = 2 * time.Second
	pingTimeout = 2 * time.Second
	keyPrefix   = "readaloud:lock:"
	separator   = "|"
)

// releaseScript deletes the lease only when it still belongs to the caller.
// Values are "readerID|readerName".
var releaseScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v and string.sub(v, 1, string.len(ARGV[1])) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisAcquirer implements AtomicAcquirer with SET NX PX
type RedisAcquirer struct {
	client *redis.Client
}

// NewRedisAcquirer connects to redisURL and verifies the connection
func NewRedisAcquirer(ctx context.Context, redisURL string) (*RedisAcquirer, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	options.DialTimeout = dialTimeout
	options.ReadTimeout = readTimeout

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisAcquirer{client: client}, nil
}

func (r *RedisAcquirer) TryAcquire(ctx context.Context, chapterID, readerID, readerName string, ttl time.Duration) (Holder, error) {
	key := keyPrefix + chapterID

	ok, err := r.client.SetNX(ctx, key, readerID+separator+readerName, ttl).Result()
	if err != nil {
		return Holder{}, err
	}
	if ok {
		return Holder{ID: readerID, Name: readerName}, nil
	}

	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between the two calls
		return r.TryAcquire(ctx, chapterID, readerID, readerName, ttl)
	}
	if err != nil {
		return Holder{}, err
	}
	holder := parseHolder(value)
	if holder.ID == readerID {
		if err := r.client.PExpire(ctx, key, ttl).Err(); err != nil {
			return Holder{}, err
		}
	}
	return holder, nil
}

func (r *RedisAcquirer) Release(ctx context.Context, chapterID, readerID string) error {
	return releaseScript.Run(ctx, r.client, []string{keyPrefix + chapterID}, readerID+separator).Err()
}

func parseHolder(value string) Holder {
	id, name, _ := strings.Cut(value, separator)
	return Holder{ID: id, Name: name}
}

// Close closes the client
func (r *RedisAcquirer) Close() error {
	return r.client.Close()
}
