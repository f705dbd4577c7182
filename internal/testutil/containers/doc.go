// Package containers starts throwaway service containers for integration
// tests with testcontainers-go:
//
//   - MySQL 8.0, for the persistent cache backend
//   - Eclipse Mosquitto, for MQTT notifications
//   - ntfy, for shoutrrr notification delivery
//
// Integration tests using this package carry the "integration" build tag:
//
//	//go:build integration
//
// and run with:
//
//	go test -tags=integration ./...
//
//nolint:misspell // Mosquitto is the official Eclipse project name
package containers
