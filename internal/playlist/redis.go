package playlist

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

const redisRecordPrefix = "artcache:playlist:"

// RedisStore satisfies MetaStore backed by a Redis server
type RedisStore struct {
	client *redis.Client
}

var _ MetaStore = (*RedisStore)(nil)

// RedisOptions selects the Redis server
type RedisOptions struct {
	Address  string
	Password string
	DB       int
}

// NewRedisStore connects to Redis and checks the connection
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "Unable to reach Redis")
	}
	return &RedisStore{client: rdb}, nil
}

func redisKey(playlistID int64, kind Kind) string {
	return redisRecordPrefix + strconv.FormatInt(playlistID, 10) + ":" + kind.String()
}

func (r *RedisStore) Get(ctx context.Context, playlistID int64, kind Kind) (Record, bool, error) {
	var rec Record
	val, err := r.client.Get(ctx, redisKey(playlistID, kind)).Result()
	if err == redis.Nil {
		return rec, false, nil
	} else if err != nil {
		return rec, false, errors.Wrap(err, "Unable to fetch playlist record from Redis")
	}
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return rec, false, errors.Wrap(err, "Unable to parse playlist record")
	}
	return rec, true, nil
}

func (r *RedisStore) Set(ctx context.Context, playlistID int64, kind Kind, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "Unable to encode playlist record")
	}
	if err := r.client.Set(ctx, redisKey(playlistID, kind), data, 0).Err(); err != nil {
		return errors.Wrap(err, "Unable to store playlist record in Redis")
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, playlistID int64) error {
	if err := r.client.Del(ctx, redisKey(playlistID, KindArtist), redisKey(playlistID, KindCover)).Err(); err != nil {
		return errors.Wrap(err, "Unable to delete playlist records from Redis")
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
