package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// Client is a thin JSON-RPC wrapper over the billing node's HTTP endpoint.
// The zero value is not usable; construct one with New.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	nextID   atomic.Int64
}

// Option customises client construction.
type Option func(*Client)

// WithAuthToken sets the bearer token sent on mutating calls.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New creates a client speaking to the JSON-RPC endpoint at the given URL.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		http:     http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int64         `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// Error is a JSON-RPC error returned by the node.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	payload := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  []interface{}{},
		ID:      c.nextID.Add(1),
	}
	if params != nil {
		payload.Params = []interface{}{params}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var decoded rpcResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(decoded.Result, out)
}

// Provider is the node's view of a registered provider.
type Provider struct {
	ID              uint64 `json:"id"`
	Active          bool   `json:"active"`
	Balance         string `json:"balance"`
	SubscriberCount uint32 `json:"subscriberCount"`
	Fee             string `json:"fee"`
}

// Subscriber is the node's view of a registered subscriber.
type Subscriber struct {
	ID        uint64   `json:"id"`
	Paused    bool     `json:"paused"`
	Balance   string   `json:"balance"`
	Plan      string   `json:"plan"`
	Providers []uint64 `json:"providers"`
}

// RolloverResult summarises a completed settlement run.
type RolloverResult struct {
	Timestamp    int64  `json:"timestamp"`
	Scanned      uint64 `json:"scanned"`
	Settled      uint64 `json:"settled"`
	Paused       uint64 `json:"paused"`
	TotalCharged string `json:"totalCharged"`
}

type idResult struct {
	ID uint64 `json:"id"`
}

type balanceResult struct {
	Balance string `json:"balance"`
}

// RegisterProvider registers a provider and returns its allocated id.
func (c *Client) RegisterProvider(ctx context.Context, caller, registrationKey, fee string) (uint64, error) {
	var result idResult
	err := c.call(ctx, "billing_registerProvider", map[string]string{
		"caller":          caller,
		"registrationKey": registrationKey,
		"fee":             fee,
	}, &result)
	return result.ID, err
}

// RemoveProvider removes the caller's provider and pays out its balance.
func (c *Client) RemoveProvider(ctx context.Context, caller string, id uint64) error {
	return c.call(ctx, "billing_removeProvider", map[string]interface{}{
		"caller": caller,
		"id":     id,
	}, nil)
}

// RegisterSubscriber registers a subscriber bound to the provider set.
func (c *Client) RegisterSubscriber(ctx context.Context, caller, deposit, plan string, providers []uint64) (uint64, error) {
	var result idResult
	err := c.call(ctx, "billing_registerSubscriber", map[string]interface{}{
		"caller":    caller,
		"deposit":   deposit,
		"plan":      plan,
		"providers": providers,
	}, &result)
	return result.ID, err
}

// PauseSubscription pauses the caller's subscription.
func (c *Client) PauseSubscription(ctx context.Context, caller string, id uint64) error {
	return c.call(ctx, "billing_pauseSubscription", map[string]interface{}{
		"caller": caller,
		"id":     id,
	}, nil)
}

// Deposit tops up the caller's subscriber balance.
func (c *Client) Deposit(ctx context.Context, caller string, id uint64, amount string) error {
	return c.call(ctx, "billing_deposit", map[string]interface{}{
		"caller": caller,
		"id":     id,
		"amount": amount,
	}, nil)
}

// WithdrawEarnings pays out the caller's provider balance and returns the
// withdrawn amount as a decimal string.
func (c *Client) WithdrawEarnings(ctx context.Context, caller string, id uint64) (string, error) {
	var result struct {
		Amount string `json:"amount"`
	}
	err := c.call(ctx, "billing_withdrawEarnings", map[string]interface{}{
		"caller": caller,
		"id":     id,
	}, &result)
	return result.Amount, err
}

// UpdateFee overwrites the caller's provider fee.
func (c *Client) UpdateFee(ctx context.Context, caller string, id uint64, fee string) error {
	return c.call(ctx, "billing_updateFee", map[string]interface{}{
		"caller": caller,
		"id":     id,
		"fee":    fee,
	}, nil)
}

// SetProviderStates applies an administrative batch of active-flag updates.
func (c *Client) SetProviderStates(ctx context.Context, caller string, ids []uint64, states []bool) error {
	return c.call(ctx, "billing_setProviderStates", map[string]interface{}{
		"caller": caller,
		"ids":    ids,
		"states": states,
	}, nil)
}

// Rollover triggers the periodic batch settlement.
func (c *Client) Rollover(ctx context.Context) (*RolloverResult, error) {
	result := new(RolloverResult)
	if err := c.call(ctx, "billing_rollover", nil, result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetProvider fetches the provider state and fee for an id.
func (c *Client) GetProvider(ctx context.Context, id uint64) (*Provider, error) {
	provider := new(Provider)
	if err := c.call(ctx, "billing_getProvider", map[string]uint64{"id": id}, provider); err != nil {
		return nil, err
	}
	return provider, nil
}

// GetSubscriber fetches the subscriber state and bound providers for an id.
func (c *Client) GetSubscriber(ctx context.Context, id uint64) (*Subscriber, error) {
	subscriber := new(Subscriber)
	if err := c.call(ctx, "billing_getSubscriber", map[string]uint64{"id": id}, subscriber); err != nil {
		return nil, err
	}
	return subscriber, nil
}

// AccountBalance fetches the token-ledger balance of an address.
func (c *Client) AccountBalance(ctx context.Context, address string) (string, error) {
	var result balanceResult
	err := c.call(ctx, "billing_accountBalance", map[string]string{"address": address}, &result)
	return result.Balance, err
}

// VaultBalance fetches the balance held in the module vault.
func (c *Client) VaultBalance(ctx context.Context) (string, error) {
	var result balanceResult
	err := c.call(ctx, "billing_vaultBalance", nil, &result)
	return result.Balance, err
}

// LastRollover fetches the unix timestamp anchoring the current billing cycle.
func (c *Client) LastRollover(ctx context.Context) (int64, error) {
	var result struct {
		Timestamp int64 `json:"timestamp"`
	}
	err := c.call(ctx, "billing_lastRollover", nil, &result)
	return result.Timestamp, err
}
