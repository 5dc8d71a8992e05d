/*
Package types defines the core data model shared by every blockshred agent.

It contains the closed status vocabularies of the coordinator:

  - MasterStatus: a job's global stage token. The progression is strictly
    monotone; the jobstore refuses writes that would move a job backwards.
  - BlockState: the per-block lifecycle on a single data node, from "new"
    through "linked" (hardlink preserved) to "shredded".
  - Worklist: the per-(job, data node) block_id to state mapping, stored as
    one JSON object in the job store and rewritten whole by its single
    writer.

Both vocabularies are closed enums. Tokens read from the job store that are
not part of the vocabulary are rejected rather than passed through, so a
corrupted or hand-edited status file surfaces as an error instead of a job
silently parked in an unreachable state.

# State Machines

Master status:

	stage1init → stage1ingest → stage1ingestComplete → stage1complete
	  → stage2prepareBlocklist → stage2copyblocks → stage2leaderactive
	  → stage2readyForDelete → stage2filesDeleted → stage2complete
	  → stage3shredding → stage3complete

Block state:

	new → finding → linking → linked → shredding → shredded

A block only reaches "shredded" after the job's master status has passed
stage2filesDeleted; until then the DFS may still serve reads from it.
*/
package types
