// Package blob 提供基于本地文件系统的二进制对象存储（录音、签名、PDF、压缩包）。
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound 表示引用对应的对象不存在。
var ErrNotFound = errors.New("blob: not found")

// FileStore 把对象写在 root 目录下，引用即相对路径。
type FileStore struct {
	root string
}

// NewFileStore 创建存储目录（若不存在）。
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create root %s: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

// Put 写入对象并返回引用。同名对象会被覆盖。
func (s *FileStore) Put(ctx context.Context, name string, r io.Reader) (string, error) {
	ref, full, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("blob: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("blob: create temp: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("blob: write %s: %w", ref, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("blob: close %s: %w", ref, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("blob: commit %s: %w", ref, err)
	}
	return ref, nil
}

// Open 打开一个已存储的对象，调用方负责关闭。
func (s *FileStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	_, full, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("blob: open %s: %w", ref, err)
	}
	return f, nil
}

func (s *FileStore) resolve(name string) (string, string, error) {
	clean := filepath.ToSlash(filepath.Clean("/" + name))
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || clean == "." {
		return "", "", fmt.Errorf("blob: invalid name %q", name)
	}
	return clean, filepath.Join(s.root, filepath.FromSlash(clean)), nil
}
