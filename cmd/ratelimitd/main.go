// ratelimitd is an HTTP service that puts fixed window rate limits in front
// of a small demo API.
//
// Usage:
//
//	# Start the server with defaults and environment overrides
//	ratelimitd serve
//
//	# Start with a configuration file, reloading limits when it changes
//	ratelimitd serve --config /etc/ratelimitd/config.yaml --watch
//
//	# Clear one caller's counters on the configured backend
//	ratelimitd reset --rule user cred:test-key-basic
//
//	# Check a configuration file
//	ratelimitd validate --config config.yaml
package main

func main() {
	Execute()
}
