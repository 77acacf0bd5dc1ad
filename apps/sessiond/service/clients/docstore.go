package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/scribehub/service-collab/internal/resilience"
)

// StoredComment is the annotation store's record of a persisted comment.
type StoredComment struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentStore is the contract to the external document/annotation store.
// All persistence is committed there; the session manager only checks
// access and relays persisted results.
type DocumentStore interface {
	CanAccess(ctx context.Context, documentID, identity string) (bool, error)
	CreateComment(ctx context.Context, documentID, identity string, content json.RawMessage, anchor any) (*StoredComment, error)
	DeleteComment(ctx context.Context, commentID, identity string) error
	AddTag(ctx context.Context, documentID, tag string) error
	RemoveTag(ctx context.Context, documentID, tag string) error
}

// HTTPDocumentStore talks JSON over HTTP to the document service. Calls run
// through a circuit breaker so a dead store fails fast instead of stalling
// every session on its timeout.
type HTTPDocumentStore struct {
	baseURL string
	client  *http.Client
	breaker *resilience.CircuitBreaker
}

// NewHTTPDocumentStore creates a document store client for baseURL.
func NewHTTPDocumentStore(baseURL string, timeout time.Duration) *HTTPDocumentStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPDocumentStore{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker(resilience.DefaultSettings("document-store")),
	}
}

// Breaker exposes the circuit breaker for health reporting.
func (s *HTTPDocumentStore) Breaker() *resilience.CircuitBreaker {
	return s.breaker
}

func (s *HTTPDocumentStore) CanAccess(ctx context.Context, documentID, identity string) (bool, error) {
	path := fmt.Sprintf("/v1/documents/%s/access/%s",
		url.PathEscape(documentID), url.PathEscape(identity))

	var result struct {
		Allowed bool `json:"allowed"`
	}
	if err := s.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return false, err
	}
	return result.Allowed, nil
}

func (s *HTTPDocumentStore) CreateComment(
	ctx context.Context,
	documentID, identity string,
	content json.RawMessage,
	anchor any,
) (*StoredComment, error) {
	path := fmt.Sprintf("/v1/documents/%s/comments", url.PathEscape(documentID))

	body := map[string]any{
		"author":  identity,
		"content": content,
	}
	if anchor != nil {
		body["anchor"] = anchor
	}

	stored := &StoredComment{}
	if err := s.do(ctx, http.MethodPost, path, body, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *HTTPDocumentStore) DeleteComment(ctx context.Context, commentID, identity string) error {
	path := fmt.Sprintf("/v1/comments/%s?identity=%s",
		url.PathEscape(commentID), url.QueryEscape(identity))
	return s.do(ctx, http.MethodDelete, path, nil, nil)
}

func (s *HTTPDocumentStore) AddTag(ctx context.Context, documentID, tag string) error {
	path := fmt.Sprintf("/v1/documents/%s/tags", url.PathEscape(documentID))
	return s.do(ctx, http.MethodPost, path, map[string]any{"tag": tag}, nil)
}

func (s *HTTPDocumentStore) RemoveTag(ctx context.Context, documentID, tag string) error {
	path := fmt.Sprintf("/v1/documents/%s/tags/%s",
		url.PathEscape(documentID), url.PathEscape(tag))
	return s.do(ctx, http.MethodDelete, path, nil, nil)
}

// do performs one JSON request/response cycle through the breaker.
func (s *HTTPDocumentStore) do(ctx context.Context, method, path string, body, out any) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		var reqBody *bytes.Reader
		if body != nil {
			encoded, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("encode request body: %w", err)
			}
			reqBody = bytes.NewReader(encoded)
		} else {
			reqBody = bytes.NewReader(nil)
		}

		req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reqBody)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return fmt.Errorf("document store returned status %d for %s %s",
				resp.StatusCode, method, path)
		}

		if out != nil {
			if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decode response body: %w", err)
			}
		}
		return nil
	})
}
