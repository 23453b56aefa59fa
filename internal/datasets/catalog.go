// Package datasets scans the local dataset directory consumed by LoRA
// training submissions.
package datasets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"orchestd/internal/common/fsutil"
	"orchestd/pkg/types"
)

// ListDir scans a directory for *.json/*.jsonl dataset files, newest first.
func ListDir(dir string) ([]types.DatasetFile, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var files []types.DatasetFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		lower := strings.ToLower(name)
		if !strings.HasSuffix(lower, ".json") && !strings.HasSuffix(lower, ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, types.DatasetFile{
			Name:       name,
			Path:       filepath.Join(abs, name),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ModifiedAt.After(files[j].ModifiedAt) })
	return files, nil
}

// Resolve finds the dataset file belonging to a job id: {id}.jsonl, {id}.json
// or the id used verbatim as a filename.
func Resolve(dir, jobID string) (string, bool) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return "", false
	}
	for _, cand := range []string{
		filepath.Join(base, jobID+".jsonl"),
		filepath.Join(base, jobID+".json"),
		filepath.Join(base, jobID),
	} {
		if fsutil.PathExists(cand) {
			return cand, true
		}
	}
	return "", false
}
