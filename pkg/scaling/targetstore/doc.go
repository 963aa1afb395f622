// Package targetstore shares desired worker counts.
//
// A control process follows its application's target through Watch, and
// anything able to reach the store (an operator CLI, another service) can
// change it with SetTarget. RedisStore coordinates processes on different
// hosts; MemoryStore serves tests and single-process setups.
//
//	store, _ := targetstore.NewRedisStore(targetstore.RedisConfig{
//		Client: redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	})
//	_ = store.SetTarget(ctx, "web", 8)
package targetstore
