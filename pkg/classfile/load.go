package classfile

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ClassFiles expands paths into class files. Directories are walked for
// files ending in .class; other paths are taken as given.
func ClassFiles(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(d.Name(), ".class") {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// LoadPool parses the class files under paths with up to concurrency
// parsers at a time and adds them to a new pool. The first parse error
// cancels the remaining work.
func LoadPool(ctx context.Context, paths []string, concurrency int) (*ClassPool, error) {
	files, err := ClassFiles(paths)
	if err != nil {
		return nil, err
	}
	pool := NewClassPool()
	g, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for _, file := range files {
		file := file
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cf, err := ParseFile(file)
			if err != nil {
				return err
			}
			if err := pool.Add(cf); err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pool, nil
}
