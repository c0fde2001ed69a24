/*
Package health provides pre-flight connectivity checks for field devices and
brokers before a device is registered with a worker.

A misconfigured host/port or an unreachable broker should surface as a clear
diagnostic before the collector spends its startup retry budget dialing it
through the real protocol stack. TCPChecker and HTTPChecker give an operator
(via the CLI) or the startup path a cheap way to confirm reachability first.

# Checkers

	Checker (interface)
	├── TCPChecker  — raw TCP dial, for Modbus TCP gateways and MQTT brokers
	└── HTTPChecker — HTTP GET/HEAD, for gateways exposing a REST diagnostics
	                  endpoint alongside their primary protocol

Both return a Result{Healthy, Message, CheckedAt, Duration} and respect
context deadlines.

# Status tracking

Status applies hysteresis on top of a Checker: ConsecutiveFailures must
reach Config.Retries before Healthy flips to false, and a single success
clears it. This is the same pattern used elsewhere in this module for
circuit-breaker-style state (see pkg/mqttworker), just parameterized here
for a generic Checker.
*/
package health
