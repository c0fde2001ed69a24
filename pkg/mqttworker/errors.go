package mqttworker

import "errors"

var (
	errMissingPath = errors.New("mqttworker: json_path not found in payload")
	errCircuitOpen = errors.New("mqttworker: circuit breaker open")
	errQueueFull   = errors.New("mqttworker: offline buffer full")
)
