package redis_client

import (
	"context"

	"github.com/adjust/rmq/v5"
	"github.com/redis/go-redis/v9"
	"github.com/travigo/sirihub/pkg/config"
)

var Client *redis.Client
var QueueConnection rmq.Connection

func Connect(redisConfig config.RedisConfig) error {
	options := &redis.Options{
		Addr: redisConfig.Address,
		DB:   redisConfig.Database,
	}
	if redisConfig.Password != "" {
		options.Password = redisConfig.Password
	}

	Client = redis.NewClient(options)

	if err := Client.Ping(context.Background()).Err(); err != nil {
		return err
	}

	var err error
	QueueConnection, err = rmq.OpenConnectionWithRedisClient("sirihub", Client, nil)
	if err != nil {
		return err
	}

	return nil
}
