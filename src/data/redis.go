package data

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

// ConnectRedis parses a redis:// URL into a client.
func ConnectRedis(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return redis.NewClient(opt), nil
}

func MustRedis(url string) *redis.Client {
	rdb, err := ConnectRedis(url)
	if err != nil {
		log.Fatalf("%v", err)
	}
	return rdb
}
