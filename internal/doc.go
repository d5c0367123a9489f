// Package babelgas reports the prepaid balance of Babel Group gas accounts
// as sensor entities.
//
// # Architecture
//
// The service is structured into several key packages:
//   - api: client for the upstream query-dept endpoint
//   - sensor: the balance entity and its throttled update
//   - entry: account entries, setup and unload
//   - scheduler: periodic refresh of every entity
//   - server: HTTP state API and websocket stream
//   - grpc: per-entity gRPC health
//   - metrics: Prometheus collectors
//   - config: file, environment and dotenv configuration
//
// Each account becomes one entity whose unique id is "babel_gas_" followed
// by the member id. The entity state is the prepaid balance in yuan. When
// an update fails the entity turns unavailable and keeps the last good
// values until a later update succeeds.
//
// Example configuration
//
//	accounts:
//	  - name: Home
//	    token: ${BABEL_TOKEN}
//	    member_id: "123456"
//	polling:
//	  scan_interval: 30m
package babelgas
