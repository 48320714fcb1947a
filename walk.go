package ftp

import (
	"os"
	"path"
	"path/filepath"
	"strings"
)

// WalkFunc is the type of the function called for each file or directory
// visited by Walk. The path argument contains the argument to Walk as a
// prefix.
//
// If there was a problem walking to the file or directory, the incoming
// error will describe the problem and the function can decide how to handle
// that error (and Walk will not descend into that directory). In the case
// of an error, the info argument will be nil. If an error is returned,
// processing stops. The sole exception is when the function returns the
// special value SkipDir. If the function returns SkipDir when invoking the
// callback on a directory, Walk skips the directory's contents entirely.
type WalkFunc func(path string, info *Entry, err error) error

// SkipDir is used as a return value from WalkFunc to indicate that the
// directory named in the call is to be skipped.
var SkipDir = filepath.SkipDir

// walk walks the file tree rooted at root, calling walkFn for each file or
// directory in the tree, including root. Walk does not follow symbolic
// links.
func walk(c *Client, root string, walkFn WalkFunc) error {
	var rootEntry *Entry
	cleanRoot := path.Clean(root)
	if cleanRoot == "." || cleanRoot == "/" {
		rootEntry = &Entry{Name: cleanRoot, Type: "dir"}
	} else {
		parent := path.Dir(cleanRoot)
		if parent == "." && !strings.Contains(cleanRoot, "/") {
			parent = ""
		}
		entries, err := c.List(parent)
		if err != nil {
			return walkFn(root, nil, err)
		}
		targetName := path.Base(cleanRoot)
		for _, e := range entries {
			if e.Name == targetName {
				rootEntry = e
				break
			}
		}
		if rootEntry == nil {
			return walkFn(root, nil, os.ErrNotExist)
		}
	}

	return walkOne(c, cleanRoot, rootEntry, walkFn)
}

func walkOne(c *Client, pathStr string, info *Entry, walkFn WalkFunc) error {
	err := walkFn(pathStr, info, nil)
	if err != nil {
		if info != nil && info.Type == "dir" && err == SkipDir {
			return nil
		}
		return err
	}

	if info == nil || info.Type != "dir" {
		return nil
	}

	entries, err := c.List(pathStr)
	if err != nil {
		return walkFn(pathStr, info, err)
	}

	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		fullPath := path.Join(pathStr, entry.Name)
		if err := walkOne(c, fullPath, entry, walkFn); err != nil {
			if err == SkipDir {
				continue
			}
			return err
		}
	}

	return nil
}
