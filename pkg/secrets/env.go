// Copyright 2026 fanjia1024
// Environment variable based secret store

package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

type envStore struct{}

// NewEnvStore 创建环境变量 secret store；key 中的 "/" "-" "." 转为 "_" 并大写，如 executor/token → EXECUTOR_TOKEN
func NewEnvStore() Store {
	return &envStore{}
}

var envKeyReplacer = strings.NewReplacer("/", "_", "-", "_", ".", "_")

// EnvKey 返回 key 对应的环境变量名
func EnvKey(key string) string {
	return strings.ToUpper(envKeyReplacer.Replace(key))
}

func (e *envStore) Get(ctx context.Context, key string) (string, error) {
	name := EnvKey(key)
	value := os.Getenv(name)
	if value == "" {
		return "", fmt.Errorf("environment variable not set: %s", name)
	}
	return value, nil
}
