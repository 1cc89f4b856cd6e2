package catalog

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/alxayo/mediasrv/internal/logger"
)

// The brief-listing cache invalidation signal is externally driven. Two
// independent invalidators are available for a deployer to wire in: a
// scheduled clear (catalog writes happen on a known cadence) and a
// filesystem-watch clear (catalog writes are signalled by touching a
// sentinel file). Neither is required; ListBrief works correctly with
// neither wired, just with a cache that never refreshes.

// CronInvalidator periodically clears the brief-listing cache on a cron
// schedule.
type CronInvalidator struct {
	cr  *cron.Cron
	log *slog.Logger
}

// StartCronInvalidator parses schedule (standard 5-field cron syntax) and
// starts a background job that clears cat's brief cache on each tick.
func StartCronInvalidator(cat *Catalog, schedule string) (*CronInvalidator, error) {
	cr := cron.New()
	log := logger.Logger().With("component", "catalog_cron_invalidator")
	_, err := cr.AddFunc(schedule, func() {
		cat.InvalidateBrief()
		log.Debug("listBrief cache invalidated by cron")
	})
	if err != nil {
		return nil, err
	}
	cr.Start()
	return &CronInvalidator{cr: cr, log: log}, nil
}

// Stop halts the scheduled job. Safe to call once.
func (i *CronInvalidator) Stop() {
	if i == nil || i.cr == nil {
		return
	}
	ctx := i.cr.Stop()
	<-ctx.Done()
}

// FileWatchInvalidator clears the listBrief cache whenever the watched
// path (a sentinel file or the catalog's backing directory) receives a
// write or create event, the write-based alternative to the cron
// invalidator above. Grounded on azure/blob-sidecar's use of fsnotify for
// local blob staging invalidation.
type FileWatchInvalidator struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// StartFileWatchInvalidator watches path and clears cat's brief cache on
// every write/create event observed there.
func StartFileWatchInvalidator(cat *Catalog, path string) (*FileWatchInvalidator, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	log := logger.Logger().With("component", "catalog_fswatch_invalidator")
	inv := &FileWatchInvalidator{watcher: watcher, done: make(chan struct{})}
	go func() {
		defer close(inv.done)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					cat.InvalidateBrief()
					log.Debug("listBrief cache invalidated by fswatch", "path", ev.Name, "op", ev.Op.String())
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("fswatch error", "error", err)
			}
		}
	}()
	return inv, nil
}

// Stop closes the underlying watcher and waits for the event loop to exit.
func (i *FileWatchInvalidator) Stop() {
	if i == nil || i.watcher == nil {
		return
	}
	i.watcher.Close()
	<-i.done
}
