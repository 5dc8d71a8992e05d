/*
Package metrics defines the Prometheus counters the agents maintain.

Agents are periodic processes with no listening socket, so metrics are not
served; each invocation increments counters on a private registry and, when
metrics_textfile_dir is configured, exports them for node_exporter's
textfile collector on exit. Counters therefore reset per invocation; rate
queries should treat them as gauges of the last run.
*/
package metrics
