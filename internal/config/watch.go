package config

import (
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch starts an fsnotify watcher on path and invokes onChange whenever the
// file is written or recreated (editors commonly replace a file rather than
// writing it in place), the same detection primitive the teacher's
// ConfigMap hot-reload tests drive. Unlike that hot-reload path,
// SPEC_FULL.md's configuration is process-lifetime static once a run has
// started (spec.md §6): Watch exists purely so a long-running command can
// warn an operator that the on-disk config drifted mid-run, not to apply
// the change.
func Watch(path string, onChange func(), logger *zap.Logger) (*fsnotify.Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", zap.Error(err))
			}
		}
	}()

	return watcher, nil
}
