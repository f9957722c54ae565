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
package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCoalesceString(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want string
	}{
		{"empty", nil, ""},
		{"all empty", []string{"", "", ""}, ""},
		{"first non-empty", []string{"a", "", "c"}, "a"},
		{"second non-empty", []string{"", "b", "c"}, "b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CoalesceString(tt.in...))
		})
	}
}

func TestPositive(t *testing.T) {
	assert.Equal(t, 10, Positive(0, 10))
	assert.Equal(t, 10, Positive(-1, 10))
	assert.Equal(t, 3, Positive(3, 10))
	assert.Equal(t, time.Second, Positive(time.Duration(0), time.Second))
	assert.Equal(t, time.Minute, Positive(time.Minute, time.Second))
}
