/*
Package shredder implements the final stage of a shred job: overwriting and
unlinking the block replicas the worker agent preserved.

The agent runs on every data node on a cron cadence. For each job in
stage3shredding it walks its own worklist, marks a block shredding on the
DFS, runs the shred primitive against the preserved hardlink on each local
mount, and records the block in a local bbolt journal before advancing it to
shredded. The journal disambiguates a crash after the primitive unlinked the
file from a block that was never preserved. Once every block is shredded the
agent reports stage3complete for this node; a worker's finalize pass
archives the job when all nodes have reported.
*/
package shredder
