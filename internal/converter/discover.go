package converter

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// CollectImageFiles expands inputs into the list of files to convert.
//
// Directories are walked recursively and only files with one of the given
// extensions are kept. Explicit file paths are always kept, even when missing
// or of another type, so the batch reports them as failed outcomes. The result
// has no duplicates and follows input order, directory entries in lexical order.
func CollectImageFiles(fsys afero.Fs, inputs []string, extensions []string) ([]string, error) {
	extSet := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		extSet[strings.ToLower(e)] = struct{}{}
	}

	seen := make(map[string]struct{})
	var files []string
	add := func(path string) {
		if _, dup := seen[path]; dup {
			return
		}
		seen[path] = struct{}{}
		files = append(files, path)
	}

	for _, in := range inputs {
		info, err := fsys.Stat(in)
		if err != nil || !info.IsDir() {
			add(in)
			continue
		}

		err = afero.Walk(fsys, in, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				if info != nil && info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if info.IsDir() {
				return nil
			}
			if _, ok := extSet[strings.ToLower(filepath.Ext(path))]; ok {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return files, nil
}
