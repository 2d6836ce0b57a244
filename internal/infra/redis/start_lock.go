package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// StartLock serializes start requests across instances with SET NX PX.
// The lease bounds how long a crashed holder can block others.
type StartLock struct {
	client *redis.Client
	lease  time.Duration
	retry  time.Duration
}

func NewStartLock(client *redis.Client, lease time.Duration) *StartLock {
	if lease <= 0 {
		lease = 5 * time.Second
	}
	return &StartLock{client: client, lease: lease, retry: 25 * time.Millisecond}
}

func (l *StartLock) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := "attempt:start:" + key
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.lease).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				// only the holder's token is deleted; an expired lease is left alone
				_ = releaseScript.Run(context.Background(), l.client, []string{redisKey}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}
