/*
Package config loads and validates the shared agent configuration.

All three agent modes read the same YAML file (default
/etc/blockshred/config.yaml, overridable with --config) and the same
BLOCKSHRED_* environment variables. Environment wins over file, file wins
over defaults.

The one derived identity is the worker ID: when worker_id is not configured,
ResolveWorkerID detects the node's primary IP, which is the name the
block-location oracle uses for this datanode. Multihomed nodes should pin
worker_id explicitly.
*/
package config
