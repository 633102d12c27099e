package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"lambra/internal/logger"

	"github.com/redis/go-redis/v9"
)

// снимаем ключ, только если он всё ещё наш
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0`)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient подключается и проверяет соединение.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Redis - блокировка на SET NX PX, общая для всех реплик.
// TTL ограничивает время жизни ключа, если процесс упал, не отпустив его.
type Redis struct {
	client  redis.Cmdable
	service string
	ttl     time.Duration
}

func NewRedis(client redis.Cmdable, service string, ttl time.Duration) *Redis {
	return &Redis{client: client, service: service, ttl: ttl}
}

// Key: {service}:lock:{key}
func (r *Redis) Key(key string) string {
	return fmt.Sprintf("%s:%s:%s", r.service, "lock", key)
}

func token() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (r *Redis) TryLock(ctx context.Context, key string) (func(), bool, error) {
	tok, err := token()
	if err != nil {
		return nil, false, err
	}
	k := r.Key(key)
	ok, err := r.client.SetNX(ctx, k, tok, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lock %s: %w", k, err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// контекст запроса к этому моменту может быть отменён
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{k}, tok).Err(); err != nil {
				logger.WithError(err).WithField("key", k).Warnf("redis unlock failed")
			}
		})
	}, true, nil
}
