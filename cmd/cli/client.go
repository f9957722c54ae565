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

package main

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

func apiBaseURL() string {
	if u := os.Getenv("GWCTL_API_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func newClient(baseURL string) *resty.Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5*time.Minute).
		SetHeader("Content-Type", "application/json")
	if token := os.Getenv("GWCTL_TOKEN"); token != "" {
		c.SetAuthToken(token)
	}
	return c
}

type apiError struct {
	Error string `json:"error"`
}

func responseError(method, path string, resp *resty.Response) error {
	if e, ok := resp.Error().(*apiError); ok && e.Error != "" {
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode(), e.Error)
	}
	return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode(), strings.TrimSpace(resp.String()))
}

func health(c *resty.Client) error {
	resp, err := c.R().Get("/api/health")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return responseError("GET", "/api/health", resp)
	}
	return nil
}

func login(c *resty.Client, clientID, apiKey string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	resp, err := c.R().
		SetBody(map[string]string{"client_id": clientID, "api_key": apiKey}).
		SetResult(&out).
		SetError(&apiError{}).
		Post("/api/auth/login")
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusOK {
		return "", responseError("POST", "/api/auth/login", resp)
	}
	return out.Token, nil
}

// callContract 提交 payload 并等待执行结果
func callContract(c *resty.Client, payload []byte) ([]byte, error) {
	var out struct {
		Payload []byte `json:"payload"`
	}
	resp, err := c.R().
		SetBody(map[string][]byte{"payload": payload}).
		SetResult(&out).
		SetError(&apiError{}).
		Post("/api/contract/call")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, responseError("POST", "/api/contract/call", resp)
	}
	return out.Payload, nil
}

// waitContractCall 等待 id 对应调用达成共识；timeout 为空时使用服务端默认值
func waitContractCall(c *resty.Client, id string, timeout string) ([]byte, error) {
	var out struct {
		Output []byte `json:"output"`
	}
	path := "/api/contract/calls/" + url.PathEscape(id)
	req := c.R().SetResult(&out).SetError(&apiError{})
	if timeout != "" {
		req.SetQueryParam("timeout", timeout)
	}
	resp, err := req.Get(path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, responseError("GET", path, resp)
	}
	return out.Output, nil
}

// parsePayload 0x 前缀按十六进制解码，否则按原始字节
func parsePayload(s string) ([]byte, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		b, err := hex.DecodeString(s[2:])
		if err != nil {
			return nil, fmt.Errorf("invalid hex payload: %w", err)
		}
		return b, nil
	}
	return []byte(s), nil
}

func formatBytes(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
