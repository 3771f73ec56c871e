//go:build !linux

package netwatch

import "context"

// Run blocks until ctx is done. Link events are only watched on Linux.
func (w *Watcher) Run(ctx context.Context) error {
	w.log.Debug("link watching unsupported on this platform")
	<-ctx.Done()
	return nil
}
