/*
Package jobstore persists the coordinator's job state machine on the DFS.

The job store is a directory tree under the configured shred root. It is the
only durable, shared state in the system: the lease store carries nothing but
lease ownership. Every agent on every data node reads and writes the same
layout, relying on three DFS properties:

  - atomic create,
  - atomic rename (used for write-then-rename status updates), and
  - universal read/write access from the data nodes.

# Write discipline

Master status writes are guarded: a token earlier in the canonical sequence
than the current one is refused with ErrStatusRegression, so a delayed or
replayed leader cannot move a job backwards. Worklists are whole-file
rewrites by exactly one writer, the worker whose ID names the file.

Transient DFS errors (namenode failover, dropped connections) are retried
with bounded exponential backoff inside each operation. Permanent errors
(missing path, permission denied) surface immediately.
*/
package jobstore
