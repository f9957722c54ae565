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

// Package callid 定义 32 字节调用标识；网关只校验长度，不解释内容
package callid

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"

	gwerrors "compute-gateway/pkg/errors"
)

// Length CallID 固定长度
const Length = 32

// ID 调用标识
type ID [Length]byte

// Parse 校验长度并拷贝为 ID；长度不符返回 ErrInvalidArg
func Parse(b []byte) (ID, error) {
	var id ID
	if len(b) != Length {
		return id, fmt.Errorf("call id length %d: %w", len(b), gwerrors.ErrInvalidArg)
	}
	copy(id[:], b)
	return id, nil
}

// ParseHex 解析十六进制形式（可带 0x 前缀），供 HTTP 与 CLI 使用
func ParseHex(s string) (ID, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("call id hex: %w", gwerrors.ErrInvalidArg)
	}
	return Parse(b)
}

// Derive 对 payload 取 Keccak-256 作为 CallID；相同 payload 得到相同 id，重复提交在 registry 上幂等
func Derive(payload []byte) ID {
	var id ID
	h := sha3.NewLegacyKeccak256()
	h.Write(payload)
	h.Sum(id[:0])
	return id
}

// Bytes 返回切片拷贝
func (id ID) Bytes() []byte {
	b := make([]byte, Length)
	copy(b, id[:])
	return b
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}
