package syncer

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/vault"
)

// QuestionCallback is invoked when a question note is created or modified,
// so the daemon can auto-run a query for it.
type QuestionCallback func(path string)

// Watch starts an fsnotify watcher on the vault root and forwards file
// lifecycle events to the sync service until ctx is cancelled. Role filtering
// happens in the service; the watcher only normalizes paths and event kinds.
//
// fsnotify reports a rename as a Rename event on the old path with the new
// path arriving as a separate Create event, which matches the service's
// delete-old + index-new rename semantics. New directories created at
// runtime are added to the watch list.
func Watch(ctx context.Context, svc *Service, vaultRoot string, logger *slog.Logger, onQuestion QuestionCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, vaultRoot); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", vaultRoot))

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			// New directories: add to watcher and report any notes inside.
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					}
					reportNewDir(svc, vaultRoot, absPath, onQuestion)
					continue
				}
			}

			if !strings.HasSuffix(absPath, ".md") {
				continue
			}

			rel, relErr := filepath.Rel(vaultRoot, absPath)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&fsnotify.Create != 0:
				svc.OnCreated(rel)
				maybeQuestion(rel, onQuestion)

			case ev.Op&fsnotify.Write != 0:
				svc.OnModified(rel)
				maybeQuestion(rel, onQuestion)

			case ev.Op&fsnotify.Remove != 0:
				svc.OnDeleted(rel)

			case ev.Op&fsnotify.Rename != 0:
				// Old path only; the destination shows up as Create.
				svc.OnDeleted(rel)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func maybeQuestion(rel string, onQuestion QuestionCallback) {
	if onQuestion != nil && vault.RoleForPath(rel) == models.RoleQuestion {
		onQuestion(rel)
	}
}

// reportNewDir reports any .md files found in a newly created directory.
func reportNewDir(svc *Service, vaultRoot, dirPath string, onQuestion QuestionCallback) {
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		rel, relErr := filepath.Rel(vaultRoot, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		svc.OnCreated(rel)
		maybeQuestion(rel, onQuestion)
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
