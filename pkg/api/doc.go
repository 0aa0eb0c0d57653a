/*
Package api exposes the operational surface of a relay process.

Two servers are provided:

	HealthServer (HTTP)
	  GET /health   component registry, 503 when a critical component fails
	  GET /ready    engine running and critical components healthy
	  GET /live     process liveness
	  GET /stats    engine state and a snapshot of every muxer
	  GET /metrics  Prometheus exposition

	GRPCServer
	  grpc.health.v1.Health for "" and "relay.Engine",
	  SERVING while the multiplexing engine runs

The gRPC server re-reads the engine state on a ticker, so a stopped engine
is reported NOT_SERVING within one interval. Every call goes through
LoggingInterceptor.

# Usage

	hs := api.NewHealthServer(engine)
	go func() {
		if err := hs.Start("127.0.0.1:9090"); err != nil {
			logger.Error().Err(err).Msg("health server failed")
		}
	}()
	defer hs.Shutdown(ctx)
*/
package api
