package redis

import (
	"context"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
)

const ReadFromEarliest = "0-0"

// EnvRedisURL holds comma separated redis addresses.
const EnvRedisURL = "SENSORPIPE_REDIS_URL"

// EnvRedisUser and EnvRedisPassword hold the credentials, when set.
const (
	EnvRedisUser     = "SENSORPIPE_REDIS_USER"
	EnvRedisPassword = "SENSORPIPE_REDIS_PASSWORD"
)

// RedisContext is used to pass the context specifically for REDIS operations.
// A cancelled context during SIGTERM or Ctrl-C that is propagated down will throw a context cancelled error because redis uses context to obtain connection from the connection pool.
// All redis operations will use the below no-op context.Background() to try to process in-flight messages that we have received prior to the cancellation of the context.
var RedisContext = context.Background()

// RedisClient datatype to hold redis client attributes.
type RedisClient struct {
	Client redis.UniversalClient
}

// NewRedisClient returns a new Redis Client.
func NewRedisClient(options *redis.UniversalOptions) *RedisClient {
	client := new(RedisClient)
	client.Client = redis.NewUniversalClient(options)
	return client
}

// NewEnvRedisClient returns a new Redis Client configured from the
// SENSORPIPE_REDIS_* environment variables.
func NewEnvRedisClient() *RedisClient {
	opts := &redis.UniversalOptions{
		Username: os.Getenv(EnvRedisUser),
		Password: os.Getenv(EnvRedisPassword),
	}
	if urls := os.Getenv(EnvRedisURL); urls != "" {
		opts.Addrs = strings.Split(urls, ",")
	}
	return NewRedisClient(opts)
}

// CreateStreamGroup creates a redis stream group and creates an empty stream if it does not exist.
func (cl *RedisClient) CreateStreamGroup(ctx context.Context, stream string, group string, start string) error {
	return cl.Client.XGroupCreateMkStream(ctx, stream, group, start).Err()
}

// DeleteStreamGroup deletes the redis stream group.
func (cl *RedisClient) DeleteStreamGroup(ctx context.Context, stream string, group string) error {
	return cl.Client.XGroupDestroy(ctx, stream, group).Err()
}

// DeleteKeys deletes a redis keys
func (cl *RedisClient) DeleteKeys(ctx context.Context, keys ...string) error {
	return cl.Client.Del(ctx, keys...).Err()
}

// PendingMsgCount returns the number of pending messages of a stream group.
func (cl *RedisClient) PendingMsgCount(ctx context.Context, streamKey, consumerGroup string) (int64, error) {
	cmd := cl.Client.XPending(ctx, streamKey, consumerGroup)
	pending, err := cmd.Result()
	if err != nil {
		return 0, err
	}
	return pending.Count, nil
}

// IsStreamGroupExists check the stream group exists
func (cl *RedisClient) IsStreamGroupExists(ctx context.Context, streamKey string, groupName string) bool {
	result, err := cl.Client.XInfoGroups(ctx, streamKey).Result()
	if err != nil {
		return false
	}
	for _, groupInfo := range result {
		if groupInfo.Name == groupName {
			return true
		}
	}
	return false
}

func IsAlreadyExistError(err error) bool {
	return strings.Contains(err.Error(), "BUSYGROUP")
}
