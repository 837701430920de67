// Package redis implements store.Store on Redis with go-redis/v9.
//
// Entities are MessagePack blobs under dispatch:* keys. Sorted sets index
// jobs and runs by creation time and pending offers by expiry, globally and
// per provider.
//
// Every atomic store operation is an optimistic transaction: the job's
// keys are WATCHed, state is read and checked, and the writes go out in a
// single MULTI/EXEC. A transaction that loses a race is retried from the
// top, so exactly one of several concurrent claims or responses commits.
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
