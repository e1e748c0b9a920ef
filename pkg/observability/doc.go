/*
Package observability provides Prometheus instrumentation for the limpopo dialog engine.

It exposes counters and gauges for live sessions, dialog outcomes, answer validation,
storage retries and idempotent call skips. A nil *Metrics is valid and records nothing,
so instrumentation stays optional for library users.
*/
package observability
