package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client는 백그라운드 REST 클라이언트
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient는 새 API 클라이언트 생성
func NewClient(host string, port int) *Client {
	return &Client{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// RestResp는 API 응답 래퍼
type RestResp struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// Status는 /api/v1/status 응답
type Status struct {
	Keyring   string `json:"keyring"`
	Migration string `json:"migration"`
	Clients   int    `json:"clients"`
	Network   string `json:"network"`
}

// ChannelStatus는 /api/v1/ws/status 응답
type ChannelStatus struct {
	ConnectedClients int    `json:"connected_clients"`
	Endpoint         string `json:"endpoint"`
}

// GetStatus는 키링 상태 조회
func (c *Client) GetStatus() (*Status, error) {
	resp, err := c.get("/api/v1/status")
	if err != nil {
		return nil, err
	}

	var status Status
	if err := json.Unmarshal(resp.Data, &status); err != nil {
		return nil, fmt.Errorf("parse status: %w", err)
	}
	return &status, nil
}

// GetChannelStatus는 UI 채널 상태 조회
func (c *Client) GetChannelStatus() (*ChannelStatus, error) {
	resp, err := c.get("/api/v1/ws/status")
	if err != nil {
		return nil, err
	}

	var status ChannelStatus
	if err := json.Unmarshal(resp.Data, &status); err != nil {
		return nil, fmt.Errorf("parse channel status: %w", err)
	}
	return &status, nil
}

func (c *Client) get(path string) (*RestResp, error) {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result RestResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if !result.Success {
		return nil, fmt.Errorf("api error: %s (%s)", result.Error, result.Code)
	}

	return &result, nil
}
