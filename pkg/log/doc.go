/*
Package log provides structured logging for blockshred using zerolog.

Agents are short-lived cron-style processes, so the logger writes to stderr
by default: console format for interactive use, JSON (--log-json) when the
output is collected by a log shipper. Context loggers carry the fields that
matter when correlating a job across data nodes:

	workerLog := log.WithWorkerID(log.WithComponent("worker"), workerID)
	jobLog := log.WithJobID(workerLog, jobID)
	jobLog.Info().Str("status", "stage2copyblocks").Msg("worklists written")

Initialize once in main before constructing any agent:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
*/
package log
