package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"
)

// Pool spreads admin API calls across cluster nodes with round-robin selection.
type Pool struct {
	client  *http.Client
	hosts   []string
	secret  string
	counter uint64
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

type publishResult struct {
	Channel  int    `json:"channel"`
	Position string `json:"position"`
	Error    string `json:"error"`
}

type polledElement struct {
	Channel  int    `json:"channel"`
	Position string `json:"position"`
	Value    any    `json:"value"`
}

// NewPool creates a pool over the given host:port pairs.
func NewPool(hosts []string, secret string, maxConnsPerHost int) (*Pool, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("no hosts provided")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = maxConnsPerHost
	transport.MaxConnsPerHost = maxConnsPerHost

	return &Pool{
		client: &http.Client{Transport: transport, Timeout: 60 * time.Second},
		hosts:  hosts,
		secret: secret,
	}, nil
}

func (p *Pool) next() string {
	idx := atomic.AddUint64(&p.counter, 1) % uint64(len(p.hosts))
	return p.hosts[idx]
}

func (p *Pool) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://"+p.next()+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.secret != "" {
		req.Header.Set("X-Gridtopic-Secret", p.secret)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response (%s): %w", resp.Status, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: %s", resp.Status, env.Error)
	}
	return env.Data, nil
}

// OpenTopic creates the topic if it does not exist.
func (p *Pool) OpenTopic(ctx context.Context, topic string) error {
	_, err := p.do(ctx, http.MethodPut, "/admin/topics/"+url.PathEscape(topic), nil)
	return err
}

// Publish posts one batch of values and returns the per-value results.
func (p *Pool) Publish(ctx context.Context, topic, producer string, values []any) ([]publishResult, error) {
	data, err := p.do(ctx, http.MethodPost, "/admin/topics/"+url.PathEscape(topic)+"/publish", map[string]any{
		"values":   values,
		"producer": producer,
	})
	if err != nil {
		return nil, err
	}
	var results []publishResult
	return results, json.Unmarshal(data, &results)
}

// Poll reads up to limit elements as a member of group.
func (p *Pool) Poll(ctx context.Context, topic, group string, limit, waitMS int) ([]polledElement, error) {
	q := url.Values{}
	q.Set("group", group)
	q.Set("limit", strconv.Itoa(limit))
	if waitMS > 0 {
		q.Set("wait_ms", strconv.Itoa(waitMS))
	}
	data, err := p.do(ctx, http.MethodGet, "/admin/topics/"+url.PathEscape(topic)+"/poll?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var items []polledElement
	return items, json.Unmarshal(data, &items)
}

// Close releases idle connections.
func (p *Pool) Close() {
	p.client.CloseIdleConnections()
}
