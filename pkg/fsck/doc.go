/*
Package fsck runs and parses the block-location oracle.

Discovery leaders need to know, for every block of the ingested file, which
data nodes hold a replica. The oracle is the DFS's own fsck tool invoked as
a subprocess with -files -blocks -locations; its human-readable report is
consumed once as a line stream and reduced to a data_node_ip → [block_id]
mapping. Non-block lines are skipped silently, so the parser survives the
report format's surrounding chatter.
*/
package fsck
