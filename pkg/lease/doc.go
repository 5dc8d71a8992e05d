/*
Package lease elects at most one leader per (job, stage) through the
ZooKeeper-class lease store.

Leases are time-bounded rather than session-bound because the agents are
short-lived cron processes: an ephemeral znode would evaporate the moment
the leader's invocation exits, even though the lease must keep excluding
other workers until its TTL runs out. The znode instead
carries a JSON {holder, expires} token; takeover of an expired lease is
guarded by the znode version, so two workers racing for the same expired
lease resolve to exactly one winner.

Acquire never blocks: a worker that loses the race logs it and moves on to
the next job. Discovery leases run for one worker cadence,
completion leases for two; both stages restart idempotently after a leader
death once the lease lapses.
*/
package lease
