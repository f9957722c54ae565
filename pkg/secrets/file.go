// Copyright 2026 fanjia1024
// File mount based secret store (Kubernetes secret volumes, docker secrets)

package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultFileDir 默认挂载目录
const DefaultFileDir = "/etc/secrets"

// FileConfig 文件挂载配置
type FileConfig struct {
	Dir string `mapstructure:"dir"` // 挂载目录，默认 /etc/secrets
}

type fileStore struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]string
}

// NewFileStore 从挂载目录读取 secret：key "executor/token" 依次尝试 <dir>/executor/token 与 <dir>/executor.token
func NewFileStore(config FileConfig) (Store, error) {
	dir := config.Dir
	if dir == "" {
		dir = DefaultFileDir
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("secret dir not found: %s", dir)
	}
	return &fileStore{dir: dir, cache: make(map[string]string)}, nil
}

func (f *fileStore) Get(ctx context.Context, key string) (string, error) {
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid secret key: %q", key)
	}
	f.mu.RLock()
	if v, ok := f.cache[key]; ok {
		f.mu.RUnlock()
		return v, nil
	}
	f.mu.RUnlock()

	for _, name := range []string{key, strings.ReplaceAll(key, "/", ".")} {
		data, err := os.ReadFile(filepath.Join(f.dir, filepath.FromSlash(name)))
		if err != nil {
			continue
		}
		v := strings.TrimRight(string(data), "\r\n")
		f.mu.Lock()
		f.cache[key] = v
		f.mu.Unlock()
		return v, nil
	}
	return "", fmt.Errorf("secret not found: %s", key)
}
