// File: internal/trajectory/paths.go
package trajectory

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const subagentDirPrefix = "subagent_"

// CollectPaths finds every .traj file under instanceDir, ordered with the
// main agent trajectory first and subagent trajectories after it by call
// number. Subagent trajectories live in subdirectories named
// subagent_{name}_{call}.
func CollectPaths(instanceDir string) ([]string, error) {
	paths, err := findTrajFiles(instanceDir)
	if err != nil {
		return nil, err
	}

	sortKey := func(path string) int {
		parent := filepath.Dir(path)
		if parent == filepath.Clean(instanceDir) {
			return 0
		}
		name := filepath.Base(parent)
		if strings.HasPrefix(name, subagentDirPrefix) {
			if n, ok := callNumber(name); ok {
				return n
			}
		}
		return 1000
	}
	sort.SliceStable(paths, func(i, j int) bool {
		return sortKey(paths[i]) < sortKey(paths[j])
	})
	return paths, nil
}

// CollectSubagentPaths returns only the trajectories for calls to the named
// subagent within instanceDir, sorted by call number.
func CollectSubagentPaths(instanceDir, subagentName string) ([]string, error) {
	paths, err := findTrajFiles(instanceDir)
	if err != nil {
		return nil, err
	}

	prefix := subagentDirPrefix + subagentName + "_"
	var filtered []string
	for _, path := range paths {
		parent := filepath.Dir(path)
		if parent == filepath.Clean(instanceDir) {
			continue
		}
		if strings.HasPrefix(filepath.Base(parent), prefix) {
			filtered = append(filtered, path)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		ni, oki := callNumber(filepath.Base(filepath.Dir(filtered[i])))
		nj, okj := callNumber(filepath.Base(filepath.Dir(filtered[j])))
		if !oki {
			ni = 10000
		}
		if !okj {
			nj = 10000
		}
		return ni < nj
	})
	return filtered, nil
}

func findTrajFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".traj") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s for trajectories: %w", root, err)
	}
	return paths, nil
}

// callNumber extracts the trailing call counter from a directory name like
// subagent_searcher_3.
func callNumber(dirName string) (int, bool) {
	idx := strings.LastIndex(dirName, "_")
	if idx == -1 {
		return 0, false
	}
	n, err := strconv.Atoi(dirName[idx+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}
