package driver

import (
	"log"
	"path/filepath"

	"psi/sender"

	"github.com/fsnotify/fsnotify"
)

// DBWatcher reloads a server's database whenever its file changes.
type DBWatcher struct {
	databaseFile string
	server       *sender.Server
	watcher      *fsnotify.Watcher
	done         chan struct{}
}

// WatchDB watches the directory holding dbFile, so that files replaced by
// rename are picked up too.
func WatchDB(server *sender.Server, dbFile string) (*DBWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(dbFile)); err != nil {
		watcher.Close()
		return nil, err
	}
	w := &DBWatcher{
		databaseFile: filepath.Clean(dbFile),
		server:       server,
		watcher:      watcher,
		done:         make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *DBWatcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.databaseFile {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.update()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Println("error:", err)
		}
	}
}

func (w *DBWatcher) update() {
	if err := w.server.LoadFile(w.databaseFile); err != nil {
		log.Printf("Cannot load DB -- this may happen when update is in progress: %v", err)
		return
	}
	log.Printf("Reloaded database with %d items from %s\n", w.server.Size(), w.databaseFile)
}

func (w *DBWatcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
