// Package redis provides connection helpers for the go-redis client:
// environment-driven configuration, a retrying Connect with readiness
// verification, and a healthcheck probe.
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
// The returned client is ready to use, e.g. as the shared backend for
// admission.NewRedisStore.
package redis
