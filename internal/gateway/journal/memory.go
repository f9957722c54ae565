// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package journal

import (
	"context"

	lru "github.com/hashicorp/golang-lru"

	"compute-gateway/internal/gateway/callid"
	gwerrors "compute-gateway/pkg/errors"
	"compute-gateway/pkg/utils"
)

// DefaultMemoryCapacity 内存 journal 默认容量
const DefaultMemoryCapacity = 100000

type memoryJournal struct {
	entries *lru.Cache
}

// NewMemory 创建容量有限的内存 journal；超出容量时淘汰最久未访问的条目
func NewMemory(capacity int) (Journal, error) {
	c, err := lru.New(utils.Positive(capacity, DefaultMemoryCapacity))
	if err != nil {
		return nil, err
	}
	return &memoryJournal{entries: c}, nil
}

func (m *memoryJournal) Save(ctx context.Context, e Entry) error {
	if e.Output != nil {
		e.Output = append([]byte(nil), e.Output...)
	}
	if v, ok := m.entries.Peek(e.ID); ok && !e.RecordedAt.After(v.(Entry).RecordedAt) {
		return nil
	}
	m.entries.Add(e.ID, e)
	return nil
}

func (m *memoryJournal) Lookup(ctx context.Context, id callid.ID) (Entry, error) {
	v, ok := m.entries.Get(id)
	if !ok {
		return Entry{}, gwerrors.ErrNotFound
	}
	return v.(Entry), nil
}

var _ Journal = (*memoryJournal)(nil)
