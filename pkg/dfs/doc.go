/*
Package dfs defines the DFS client handle the coordinator consumes.

The Client interface is deliberately small: the job store needs atomic
whole-file reads and writes, directory listing, rename, and a recursive
skip-trash delete. The production implementation (Dial) wraps the native Go
HDFS client; rename doubles as the atomic-replace primitive and as the
ingest capability check.

Tests use the in-memory implementation in the dfstest subpackage.
*/
package dfs
