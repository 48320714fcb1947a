package ftp

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
)

// UploadDir uploads a local directory tree to a remote path, creating
// directories as needed. Symbolic links are skipped.
func (c *Client) UploadDir(localDir, remoteDir string) error {
	return filepath.Walk(localDir, func(localPath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		rel, err := filepath.Rel(localDir, localPath)
		if err != nil {
			return err
		}
		remotePath := remoteDir
		if rel != "." {
			remotePath = path.Join(remoteDir, filepath.ToSlash(rel))
		}
		if info.IsDir() {
			if err := c.MakeDir(remotePath); err != nil {
				return fmt.Errorf("mkdir %s: %w", remotePath, err)
			}
			return nil
		}
		return c.UploadFile(localPath, remotePath)
	})
}

// DownloadDir downloads a remote directory tree to a local path, creating
// directories as needed.
func (c *Client) DownloadDir(remoteDir, localDir string) error {
	return c.Walk(remoteDir, func(remotePath string, info *Entry, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepathRelSlash(remoteDir, remotePath)
		if rerr != nil {
			return rerr
		}
		localPath := localDir
		if rel != "." {
			localPath = filepath.Join(localDir, rel)
		}
		if info.Type == "dir" {
			return os.MkdirAll(localPath, 0755)
		}
		if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
			return err
		}
		return c.DownloadFile(remotePath, localPath)
	})
}

func filepathRelSlash(base, target string) (string, error) {
	return filepath.Rel(filepath.FromSlash(base), filepath.FromSlash(target))
}

// RemoveDirRecursive removes a remote directory and all its contents.
func (c *Client) RemoveDirRecursive(path string) error {
	return wrapEngineErr(c.session.RemoveDir(context.Background(), path, true))
}
