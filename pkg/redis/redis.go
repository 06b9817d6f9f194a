package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/redis/go-redis/v9"
)

type config struct {
	Address  string        `env:"REDIS_ADDRESS" env-default:"localhost:6379"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" env-default:"0"`
	Timeout  time.Duration `env:"REDIS_TIMEOUT" env-default:"5s"`
}

type Client struct {
	client *redis.Client
}

// NewClient builds a client from the REDIS_* environment variables. No
// connection is made until the first command.
func NewClient() (Client, error) {
	var cfg config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Client{}, fmt.Errorf("reading redis config: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	return Client{client: client}, nil
}

func (c Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c Client) Publish(ctx context.Context, channel string, message []byte) (int64, error) {
	return c.client.Publish(ctx, channel, message).Result()
}

// Set stores value under key. A zero ttl keeps the key forever.
func (c Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c Client) Get(ctx context.Context, key string) ([]byte, error) {
	return c.client.Get(ctx, key).Bytes()
}

func (c Client) Close() error {
	return c.client.Close()
}
