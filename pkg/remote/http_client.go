package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/emmeowzing/threatstack-rule-manager/pkg/errkind"
)

// HTTPClient is the concrete remote.Client implementation over the remote
// platform's REST API. It applies a small bounded exponential backoff
// around transient network/5xx failures; it does not retry 4xx responses
// or a body carrying "errors", since those are the reconciler's per-entity
// failures to surface, not transient faults.
type HTTPClient struct {
	BaseURL    string
	UserID     string
	APIKey     string
	HTTP       *http.Client
	Log        logrus.FieldLogger
	MaxRetries int
}

// NewHTTPClient builds an HTTPClient with sane defaults: a 30s-timeout
// http.Client and three retries.
func NewHTTPClient(baseURL, userID, apiKey string, log logrus.FieldLogger) *HTTPClient {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &HTTPClient{
		BaseURL:    baseURL,
		UserID:     userID,
		APIKey:     apiKey,
		HTTP:       &http.Client{Timeout: 30 * time.Second},
		Log:        log,
		MaxRetries: 3,
	}
}

// errorEnvelope mirrors the remote API's convention of signalling failure by
// embedding a populated "errors" field rather than a non-2xx status.
type errorEnvelope struct {
	Errors json.RawMessage `json:"errors,omitempty"`
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var raw []byte
	var err error
	if body != nil {
		raw, err = json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "marshal request body for %s %s", method, path)
		}
	}

	b := &backoff.Backoff{Min: 200 * time.Millisecond, Max: 5 * time.Second, Factor: 2, Jitter: true}

	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			c.Log.WithFields(logrus.Fields{"attempt": attempt, "path": path}).Debug("retrying remote call")
			select {
			case <-time.After(b.Duration()):
			case <-ctx.Done():
				return errors.Wrapf(ctx.Err(), "remote call %s %s", method, path)
			}
		}

		resp, err := c.attempt(ctx, method, path, raw, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isTransient(err) {
			return err
		}
		_ = resp
	}

	return errors.Wrapf(errkind.ErrRemoteFailure, "%s %s: %v (after %d retries)", method, path, lastErr, c.MaxRetries)
}

type transientError struct{ err error }

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

func isTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

func (c *HTTPClient) attempt(ctx context.Context, method, path string, body []byte, out interface{}) (*http.Response, error) {
	url := c.BaseURL + path
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, errors.Wrapf(err, "build request %s %s", method, path)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("%s:%s", c.UserID, c.APIKey))

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &transientError{errors.Wrapf(err, "%s %s", method, path)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, &transientError{errors.Wrapf(err, "read response body for %s %s", method, path)}
	}

	if resp.StatusCode >= 500 {
		return resp, &transientError{errors.Errorf("%s %s: server error %d: %s", method, path, resp.StatusCode, raw)}
	}
	if resp.StatusCode >= 400 {
		return resp, errors.Wrapf(errkind.ErrRemoteFailure, "%s %s: status %d: %s", method, path, resp.StatusCode, raw)
	}

	if len(raw) == 0 {
		return resp, nil
	}

	var envelope errorEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Errors) > 0 && string(envelope.Errors) != "null" {
		return resp, errors.Wrapf(errkind.ErrRemoteFailure, "%s %s: %s", method, path, envelope.Errors)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp, errors.Wrapf(err, "unmarshal response body for %s %s", method, path)
		}
	}

	return resp, nil
}

func (c *HTTPClient) GetRulesets(ctx context.Context) ([]Ruleset, error) {
	var out struct {
		Rulesets []Ruleset `json:"rulesets"`
	}
	if err := c.do(ctx, http.MethodGet, "/rulesets", nil, &out); err != nil {
		return nil, err
	}
	return out.Rulesets, nil
}

func (c *HTTPClient) GetRulesetRules(ctx context.Context, rulesetID string) ([]Rule, error) {
	var out struct {
		RuleIDs []Rule `json:"ruleIds"`
	}
	if err := c.do(ctx, http.MethodGet, "/rulesets/"+rulesetID+"/rules", nil, &out); err != nil {
		return nil, err
	}
	return out.RuleIDs, nil
}

func (c *HTTPClient) GetRuleTags(ctx context.Context, ruleID string) (Tags, error) {
	var out Tags
	err := c.do(ctx, http.MethodGet, "/rules/"+ruleID+"/tags", nil, &out)
	return out, err
}

func (c *HTTPClient) PostRuleset(ctx context.Context, data Ruleset) (string, error) {
	var out Ruleset
	if err := c.do(ctx, http.MethodPost, "/rulesets", data, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *HTTPClient) PutRuleset(ctx context.Context, rulesetID string, data Ruleset) error {
	return c.do(ctx, http.MethodPut, "/rulesets/"+rulesetID, data, nil)
}

func (c *HTTPClient) DeleteRuleset(ctx context.Context, rulesetID string) error {
	return c.do(ctx, http.MethodDelete, "/rulesets/"+rulesetID, nil, nil)
}

func (c *HTTPClient) PostRule(ctx context.Context, rulesetID string, data Rule) (string, error) {
	var out Rule
	if err := c.do(ctx, http.MethodPost, "/rulesets/"+rulesetID+"/rules", data, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *HTTPClient) PutRule(ctx context.Context, rulesetID, ruleID string, data Rule) error {
	return c.do(ctx, http.MethodPut, "/rulesets/"+rulesetID+"/rules/"+ruleID, data, nil)
}

func (c *HTTPClient) DeleteRule(ctx context.Context, rulesetID, ruleID string) error {
	return c.do(ctx, http.MethodDelete, "/rulesets/"+rulesetID+"/rules/"+ruleID, nil, nil)
}

func (c *HTTPClient) PostTags(ctx context.Context, ruleID string, data Tags) error {
	return c.do(ctx, http.MethodPost, "/rules/"+ruleID+"/tags", data, nil)
}

var _ Client = (*HTTPClient)(nil)
