package watcher

import (
	"os"
	"path/filepath"
	"time"
)

func walk(root string, exclude map[string]bool, out *[]string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, e := range entries {
		path := filepath.Join(root, e.Name())
		if e.IsDir() {
			if exclude[e.Name()] {
				continue
			}
			walk(path, exclude, out)
			continue
		}
		if isTodoFile(e.Name()) {
			*out = append(*out, filepath.Clean(path))
		}
	}
}

func statModTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
