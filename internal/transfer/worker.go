// Package transfer carries token-ledger transfers as durable River jobs.
//
// The initiating call enqueues a job inside its own transaction; the worker
// performs the external transfer and reports the outcome back into the vault
// through the Resolver continuation. The worker never mutates ledger state
// itself.
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// JobArgs identifies one pending transfer request.
type JobArgs struct {
	RequestID uuid.UUID `json:"request_id"`
	Receiver  string    `json:"receiver"`
	Amount    uint64    `json:"amount"`
	Memo      string    `json:"memo"`
}

func (JobArgs) Kind() string { return "token_transfer" }

// Resolver is the continuation the worker invokes with the transfer's
// host-level outcome.
type Resolver interface {
	ResolveTransfer(ctx context.Context, requestID uuid.UUID, ok bool, reason string) error
}

// TokenClient moves tokens on the external ledger. requestID is the
// transfer's idempotency key: River may re-run a job whose transfer landed
// but whose continuation failed, and the ledger deduplicates on it.
type TokenClient interface {
	Transfer(ctx context.Context, requestID uuid.UUID, receiver string, amount uint64, memo string) error
}

// Worker executes transfer jobs.
type Worker struct {
	river.WorkerDefaults[JobArgs]
	client   TokenClient
	resolver Resolver
}

func NewWorker(client TokenClient, resolver Resolver) *Worker {
	return &Worker{client: client, resolver: resolver}
}

// Work performs the transfer and resolves the request. A transfer the
// ledger rejects is a final failure and resolves the revert path; an error
// reaching the ledger at all is returned so River retries the job.
func (w *Worker) Work(ctx context.Context, job *river.Job[JobArgs]) error {
	args := job.Args
	err := w.client.Transfer(ctx, args.RequestID, args.Receiver, args.Amount, args.Memo)
	if err != nil {
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			if resolveErr := w.resolver.ResolveTransfer(ctx, args.RequestID, false, rejected.Reason); resolveErr != nil {
				return fmt.Errorf("transfer rejected (%s) and continuation failed: %w", rejected.Reason, resolveErr)
			}
			return nil
		}
		return fmt.Errorf("reaching token ledger: %w", err)
	}
	if err := w.resolver.ResolveTransfer(ctx, args.RequestID, true, ""); err != nil {
		return fmt.Errorf("finalizing transfer: %w", err)
	}
	return nil
}

// RejectedError is a transfer the token ledger refused (receiver storage not
// registered, insufficient supply, ...). Rejection is final: retrying will
// not help, the continuation must revert.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return "transfer rejected: " + e.Reason }

// HTTPTokenClient talks to the token-ledger collaborator over HTTP.
type HTTPTokenClient struct {
	BaseURL    string
	httpClient *http.Client
}

func NewHTTPTokenClient(baseURL string) *HTTPTokenClient {
	return &HTTPTokenClient{
		BaseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type transferRequestBody struct {
	RequestID uuid.UUID `json:"request_id"`
	Receiver  string    `json:"receiver"`
	Amount    uint64    `json:"amount"`
	Memo      string    `json:"memo"`
}

// Transfer posts the transfer to the ledger. A 4xx response is a final
// rejection; network errors and 5xx responses are transient.
func (c *HTTPTokenClient) Transfer(ctx context.Context, requestID uuid.UUID, receiver string, amount uint64, memo string) error {
	body, err := json.Marshal(transferRequestBody{RequestID: requestID, Receiver: receiver, Amount: amount, Memo: memo})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/transfers", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("network error calling token ledger: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		if payload.Error == "" {
			payload.Error = fmt.Sprintf("ledger returned status %d", resp.StatusCode)
		}
		return &RejectedError{Reason: payload.Error}
	default:
		return fmt.Errorf("token ledger returned status %d", resp.StatusCode)
	}
}
