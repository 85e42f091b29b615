// Package storage owns the on-disk layout of uploads and task outputs.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileEntry describes one file belonging to a task.
type FileEntry struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Size int64  `json:"size"`
}

var videoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true,
	".flv": true, ".wmv": true, ".webm": true,
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".tiff": true, ".webp": true,
}

func IsVideoFile(name string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(name))]
}

func IsImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// ValidateUpload accepts video and image files by extension.
func ValidateUpload(name string) error {
	if IsVideoFile(name) || IsImageFile(name) {
		return nil
	}
	ext := filepath.Ext(name)
	if ext == "" {
		return fmt.Errorf("file %q has no extension", name)
	}
	return fmt.Errorf("unsupported file type %q", ext)
}

// TranslatedPath is where the translation of a task's source is written.
func TranslatedPath(sourcePath, taskID, lang string) string {
	if lang == "" {
		lang = "xx"
	}
	return filepath.Join(filepath.Dir(sourcePath), fmt.Sprintf("%s_%s_translated_%s.mp4", taskID, stem(sourcePath), lang))
}

// RemovedPath is where the subtitle-free version of a task's source is
// written.
func RemovedPath(sourcePath, taskID string) string {
	return filepath.Join(filepath.Dir(sourcePath), fmt.Sprintf("%s_%s_no_sub.mp4", taskID, stem(sourcePath)))
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ListTaskFiles returns the artifacts and outputs a task has next to its
// source, ordered by name. Every such file is prefixed with the task id.
func ListTaskFiles(sourcePath, taskID string) ([]FileEntry, error) {
	entries, err := os.ReadDir(filepath.Dir(sourcePath))
	if err != nil {
		return nil, err
	}

	prefix := taskID + "_"
	var result []FileEntry
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		result = append(result, FileEntry{Name: name, Kind: fileKind(name), Size: info.Size()})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func fileKind(name string) string {
	switch {
	case strings.HasSuffix(name, "_detected.json"):
		return "detection"
	case strings.HasSuffix(name, "_confirmed.json"):
		return "confirmation"
	case strings.HasSuffix(name, ".vtt"):
		return "subtitles"
	case strings.Contains(name, "_temp"):
		return "intermediate"
	case IsVideoFile(name):
		return "output"
	default:
		return "other"
	}
}
