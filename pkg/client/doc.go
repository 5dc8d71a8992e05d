/*
Package client implements the single-shot ingest pipeline.

The client agent runs once per user request. It validates the target,
creates the job record (stage1init → stage1ingest), and moves the target
into the job's data directory on the DFS. That rename doubles as the
authorization check: a user who cannot rename the file cannot have it
shredded, and the job is cleaned up without a trace.

Failures after the rename leave a recoverable job behind on purpose: an
operator can inspect the store directory and either advance the status by
hand or abandon the job. Client-stage failures are rare and want human
review rather than automatic repair.
*/
package client
