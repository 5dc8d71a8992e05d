package jobstore

import (
	"os"
	"time"
)

const (
	retryAttempts          = 5
	defaultRetryBaseMillis = 250
	retryCapMillis         = 4000
)

// isPermanent reports errors retrying cannot fix: the path genuinely is not
// there, or the caller lacks permission. Everything else from the DFS is
// treated as transient (namenode failover, connection reset).
func isPermanent(err error) bool {
	return os.IsNotExist(err) || os.IsPermission(err) || os.IsExist(err)
}

// withRetry runs op with bounded exponential backoff. The final error is
// returned unwrapped so callers can classify it.
func (s *Store) withRetry(op func() error) error {
	delay := time.Duration(s.retryBase) * time.Millisecond
	maxDelay := time.Duration(retryCapMillis) * time.Millisecond

	var err error
	for attempt := 1; ; attempt++ {
		err = op()
		if err == nil || isPermanent(err) || attempt == retryAttempts {
			return err
		}
		s.logger.Debug().Err(err).Int("attempt", attempt).Msg("transient DFS error, backing off")
		time.Sleep(delay)
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
