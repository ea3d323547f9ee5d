package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// maxUpsertAttempts bounds the WATCH retries of one UpsertFields call.
const maxUpsertAttempts = 16

var errUpsertContended = errors.New("too many concurrent writers")

// Redis stores each document as a JSON string under doc:<collection>:<id>.
type Redis struct {
	Client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{Client: client}
}

func (r *Redis) key(collection, id string) string {
	return fmt.Sprintf("doc:%s:%s", collection, id)
}

func (r *Redis) Find(ctx context.Context, collection, id string) (json.RawMessage, error) {
	doc, err := r.Client.Get(ctx, r.key(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("find", collection, id, err)
	}
	return doc, nil
}

func (r *Redis) UpsertFields(ctx context.Context, collection, id string, fields Fields) error {
	if err := checkFields(fields); err != nil {
		return err
	}
	key := r.key(collection, id)
	merge := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		merged, err := MergeFields(current, fields)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, []byte(merged), 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		err := r.Client.Watch(ctx, merge, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrNotObject):
			return err
		default:
			return storeErr("upsert", collection, id, err)
		}
	}
	return storeErr("upsert", collection, id, errUpsertContended)
}

func (r *Redis) Replace(ctx context.Context, collection, id string, doc json.RawMessage) error {
	if err := checkObject(doc); err != nil {
		return err
	}
	ok, err := r.Client.SetXX(ctx, r.key(collection, id), []byte(doc), 0).Result()
	if err != nil {
		return storeErr("replace", collection, id, err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (r *Redis) Insert(ctx context.Context, collection, id string, doc json.RawMessage) error {
	if err := checkObject(doc); err != nil {
		return err
	}
	ok, err := r.Client.SetNX(ctx, r.key(collection, id), []byte(doc), 0).Result()
	if err != nil {
		return storeErr("insert", collection, id, err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}
