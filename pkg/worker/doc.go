/*
Package worker implements the data node agent that drives shred jobs from
ingest to the point where only shredding remains.

Every data node runs the same agent on a cron cadence. One invocation makes
four passes over the job store:

 1. Discovery: for jobs at stage1complete, win the per-job lease, ask the
    block-location oracle where every block's replicas live, and write one
    worklist per participating data node. Exactly one worker leads this per
    job; the rest observe lease contention and move on.
 2. Preserve: for jobs at stage2copyblocks, process this node's own
    worklist: find each block file on local disk, hardlink it into the
    per-mount shred directory, and advance the block to linked. The
    hardlink shares the block's inode, so the data stays allocated after
    the DFS drops its own reference.
 3. Completion: when this node's worklist is fully linked, stand for the
    completion lease. The leader waits for every participant, deletes the
    ingested payload from the DFS bypassing the trash, and advances the job
    to stage3shredding. Peers that stop progressing are flagged for
    operators, never fenced.
 4. Finalize: promote jobs to stage3complete once every participant's
    shredder reported done, and archive the record.

All coordination is through the job store and the lease store; workers
never talk to each other directly. Every pass is idempotent, so a crashed
invocation costs at most one lease TTL of delay.
*/
package worker
