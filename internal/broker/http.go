package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"trade-enginev1/internal/model"
)

// HTTPConfig configures the HTTP broker client.
type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string // second factor for session login
}

// HTTPBroker is the production broker transport. Sessions are established
// with a TOTP second factor and re-established on 401.
type HTTPBroker struct {
	cfg    HTTPConfig
	client *http.Client

	mu    sync.Mutex
	token string
}

// NewHTTPBroker creates the HTTP broker transport.
func NewHTTPBroker(cfg HTTPConfig) *HTTPBroker {
	return &HTTPBroker{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Login establishes a broker session using the TOTP second factor.
func (b *HTTPBroker) Login(ctx context.Context) error {
	code, err := totp.GenerateCode(b.cfg.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("totp generate: %w", err)
	}

	body, _ := json.Marshal(map[string]string{
		"clientcode": b.cfg.ClientCode,
		"password":   b.cfg.Password,
		"totp":       code,
	})
	var resp struct {
		Data struct {
			SessionToken string `json:"session_token"`
		} `json:"data"`
	}
	if err := b.post(ctx, "/session/login", body, &resp); err != nil {
		return fmt.Errorf("broker login: %w", err)
	}

	b.mu.Lock()
	b.token = resp.Data.SessionToken
	b.mu.Unlock()
	log.Printf("[broker] session established for %s", b.cfg.ClientCode)
	return nil
}

// Place submits an order. The client token rides in the request so the
// broker can collapse duplicate submissions.
func (b *HTTPBroker) Place(ctx context.Context, o model.Order) (model.OrderAck, error) {
	body, err := json.Marshal(o)
	if err != nil {
		return model.OrderAck{}, Permanent("ENCODE", err)
	}

	var resp struct {
		Data model.OrderAck `json:"data"`
	}
	if err := b.post(ctx, "/orders", body, &resp); err != nil {
		return model.OrderAck{}, err
	}
	if resp.Data.BrokerOrderID == "" {
		return model.OrderAck{}, Permanent("NO_ORDER_ID", fmt.Errorf("empty broker order id"))
	}
	return resp.Data, nil
}

// Cancel cancels a broker order.
func (b *HTTPBroker) Cancel(ctx context.Context, brokerOrderID string) error {
	return b.post(ctx, "/orders/"+brokerOrderID+"/cancel", nil, nil)
}

// Ping checks broker liveness.
func (b *HTTPBroker) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.BaseURL+"/ping", nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("broker ping status %d", resp.StatusCode)
	}
	return nil
}

func (b *HTTPBroker) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return Permanent("REQUEST", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", b.cfg.APIKey)
	b.mu.Lock()
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	b.mu.Unlock()

	resp, err := b.client.Do(req)
	if err != nil {
		return Transient(err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, string(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return Permanent("DECODE", err)
		}
	}
	return nil
}
