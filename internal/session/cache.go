// Package session backs the proxy's own downstream session bookkeeping:
// one hash per issued Mcp-Session-Id, keyed by an opaque field name, so
// multiple proxy replicas can share session state through redis instead
// of each holding it only in local memory.
package session

import (
	"context"
	"sync"

	redis "github.com/redis/go-redis/v9"
)

// Cache is a string-keyed hash store: one entry per session id, each
// holding an arbitrary set of field/value pairs. Backed by an in-memory
// sync.Map by default, or a redis hash per key when WithConnectionString
// is supplied, so a fleet of proxy replicas can share session state.
type Cache struct {
	connectionString string
	inmemory         *sync.Map
	extClient        *redis.Client
}

// KeyExists reports whether a session id has any tracked fields.
func (c *Cache) KeyExists(ctx context.Context, key string) (bool, error) {
	if c.inmemory != nil {
		_, ok := c.inmemory.Load(key)
		return ok, nil
	}
	count, err := c.extClient.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}
	return false, nil

}

// GetSession returns every field tracked for key, or an empty map if key
// isn't tracked.
func (c *Cache) GetSession(ctx context.Context, key string) (map[string]string, error) {
	if c.inmemory != nil {
		val, ok := c.inmemory.Load(key)
		if ok {
			return val.(map[string]string), nil
		}
		return map[string]string{}, nil
	}
	return c.extClient.HGetAll(ctx, key).Result()
}

// DeleteSessions drops every field tracked under each given key.
func (c *Cache) DeleteSessions(ctx context.Context, key ...string) error {
	if c.inmemory != nil {
		for _, k := range key {
			c.inmemory.Delete(k)
		}
		return nil
	}
	return c.extClient.Del(ctx, key...).Err()
}

// AddSession sets field to value under key, creating key if it doesn't
// already exist.
func (c *Cache) AddSession(ctx context.Context, key, field, value string) (bool, error) {
	if c.inmemory != nil {
		session, err := c.GetSession(ctx, key)
		if err != nil {
			return false, err
		}
		session[field] = value
		c.inmemory.Store(key, session)
		return true, nil
	}
	err := c.extClient.HSet(ctx, key, field, value).Err()
	if err != nil {
		return false, err
	}
	return true, nil
}

// RemoveServerSession drops a single field from key, leaving any other
// fields tracked under it untouched.
func (c *Cache) RemoveServerSession(ctx context.Context, key, field string) error {
	if c.inmemory != nil {
		session, err := c.GetSession(ctx, key)
		if err != nil {
			return err
		}
		delete(session, field)
		c.inmemory.Store(key, session)
		return nil
	}
	return c.extClient.HDel(ctx, key, field).Err()
}

// Keys returns every session id currently tracked, backing Tracker.Active.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	if c.inmemory != nil {
		var keys []string
		c.inmemory.Range(func(k, _ any) bool {
			keys = append(keys, k.(string))
			return true
		})
		return keys, nil
	}
	return c.extClient.Keys(ctx, "*").Result()
}

// Close closes the cache connection
func (c *Cache) Close() error {
	if c.inmemory != nil {
		return nil
	}
	return c.extClient.Close()
}

// NewCache returns a new cache
func NewCache(ctx context.Context, opts ...func(*Cache)) (*Cache, error) {
	c := &Cache{
		inmemory: nil,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.connectionString != "" {
		opt, err := redis.ParseURL(c.connectionString)
		if err != nil {
			return c, err
		}

		c.extClient = redis.NewClient(opt)
		return c, c.extClient.Ping(ctx).Err()
	}
	c.inmemory = &sync.Map{}
	return c, nil
}

// WithConnectionString accepts a redis connections string "redis://<user>:<pass>@localhost:6379/<db>"
func WithConnectionString(url string) func(c *Cache) {
	return func(c *Cache) {
		c.inmemory = nil
		c.connectionString = url
	}
}
