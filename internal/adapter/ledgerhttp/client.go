// Package ledgerhttp provides the HTTP client for the accounting system's
// API. All calls run through a circuit breaker so a down ledger degrades
// decisions to "propose" instead of queueing failures.
package ledgerhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/finback/autoclerk/internal/cascade"
	"github.com/finback/autoclerk/internal/config"
	"github.com/finback/autoclerk/internal/port/ledger"
	"github.com/finback/autoclerk/internal/resilience"
)

// Client talks to the ledger API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a ledger client from configuration.
func NewClient(cfg config.Ledger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Reconcile marks a bank transaction as matched to a ledger record.
func (c *Client) Reconcile(ctx context.Context, transactionID, matchType, matchID string) error {
	body, err := json.Marshal(map[string]string{
		"match_type": matchType,
		"match_id":   matchID,
	})
	if err != nil {
		return fmt.Errorf("marshal reconcile: %w", err)
	}

	path := fmt.Sprintf("/transactions/%s/reconcile", transactionID)
	if _, err := c.doRequest(ctx, http.MethodPost, path, body); err != nil {
		return fmt.Errorf("reconcile %s: %w", transactionID, err)
	}
	return nil
}

// UpdateRecord patches fields on a ledger record.
func (c *Client) UpdateRecord(ctx context.Context, id string, fields map[string]string) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}

	if _, err := c.doRequest(ctx, http.MethodPatch, "/records/"+id, body); err != nil {
		return fmt.Errorf("update record %s: %w", id, err)
	}
	return nil
}

// CreateTransfer books an inter-account transfer.
func (c *Client) CreateTransfer(ctx context.Context, from, to string, amount float64, note string) error {
	body, err := json.Marshal(map[string]any{
		"from":   from,
		"to":     to,
		"amount": amount,
		"note":   note,
	})
	if err != nil {
		return fmt.Errorf("marshal transfer: %w", err)
	}

	if _, err := c.doRequest(ctx, http.MethodPost, "/transfers", body); err != nil {
		return fmt.Errorf("create transfer: %w", err)
	}
	return nil
}

// openRecord is the wire shape of one open ledger row.
type openRecord struct {
	ID          string  `json:"id"`
	SourceType  string  `json:"source_type"`
	Amount      float64 `json:"amount"`
	PostedOn    string  `json:"posted_on"`
	Reference   string  `json:"reference"`
	Description string  `json:"description"`
}

// FetchOpenRecords returns the ledger's open (unreconciled) records for the
// local matching mirror.
func (c *Client) FetchOpenRecords(ctx context.Context) ([]cascade.Record, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/records?status=open", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch open records: %w", err)
	}

	var result struct {
		Data []openRecord `json:"data"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("unmarshal open records: %w", err)
	}

	recs := make([]cascade.Record, 0, len(result.Data))
	for _, r := range result.Data {
		date, err := time.Parse("2006-01-02", r.PostedOn)
		if err != nil {
			return nil, fmt.Errorf("parse posted_on %q: %w", r.PostedOn, err)
		}
		recs = append(recs, cascade.Record{
			SourceType:  r.SourceType,
			SourceID:    r.ID,
			Amount:      r.Amount,
			Date:        date,
			Reference:   r.Reference,
			Description: r.Description,
		})
	}
	return recs, nil
}

// overdueInvoice is the wire shape of one overdue invoice.
type overdueInvoice struct {
	ID            string  `json:"id"`
	EntityRef     string  `json:"entity_ref"`
	Customer      string  `json:"customer"`
	Amount        float64 `json:"amount"`
	DueDate       string  `json:"due_date"`
	DaysOverdue   int     `json:"days_overdue"`
	RemindersSent int     `json:"reminders_sent"`
}

// FetchOverdueInvoices returns the invoices currently past due, for the
// scheduled collections sweep.
func (c *Client) FetchOverdueInvoices(ctx context.Context) ([]ledger.OverdueInvoice, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/invoices?status=overdue", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch overdue invoices: %w", err)
	}

	var result struct {
		Data []overdueInvoice `json:"data"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("unmarshal overdue invoices: %w", err)
	}

	invoices := make([]ledger.OverdueInvoice, 0, len(result.Data))
	for _, inv := range result.Data {
		due, err := time.Parse("2006-01-02", inv.DueDate)
		if err != nil {
			return nil, fmt.Errorf("parse due_date %q: %w", inv.DueDate, err)
		}
		invoices = append(invoices, ledger.OverdueInvoice{
			ID:            inv.ID,
			EntityRef:     inv.EntityRef,
			Customer:      inv.Customer,
			Amount:        inv.Amount,
			DueDate:       due,
			DaysOverdue:   inv.DaysOverdue,
			RemindersSent: inv.RemindersSent,
		})
	}
	return invoices, nil
}

// Health checks if the ledger API is reachable.
func (c *Client) Health(ctx context.Context) (bool, error) {
	_, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	return err == nil, err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("ledger API error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
