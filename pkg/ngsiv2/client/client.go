// Package client implements the NGSI v2 context broker client used to
// synchronise streetlight entities and attribute updates.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"

	"github.com/cityiot/streetlight-sync/pkg/ngsiv2/subscriptions"
	"github.com/cityiot/streetlight-sync/pkg/ngsiv2/types"
	"github.com/cityiot/streetlight-sync/pkg/tools"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type ContextBrokerClient interface {
	RetrieveEntity(ctx context.Context, entityID, entityType string) (*types.Entity, error)
	RetrieveAttribute(ctx context.Context, entityID, entityType, attributeName string) (*types.Attribute, error)
	CreateEntities(ctx context.Context, entities []*types.Entity) error
	AppendToEntities(ctx context.Context, fragments []*types.Entity) error
	UpdateAttributes(ctx context.Context, fragments []*types.Entity) error
	ListEntities(ctx context.Context) ([]EntityRef, error)
	DeleteEntity(ctx context.Context, entityID, entityType string) error
	ListSubscriptions(ctx context.Context) ([]subscriptions.Subscription, error)
	CreateSubscription(ctx context.Context, sub subscriptions.Subscription) error
	DeleteSubscription(ctx context.Context, subscriptionID string) error
}

// EntityRef identifies one remote entity.
type EntityRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// DefaultMaxPayloadSize is the payload ceiling for batched operations.
const DefaultMaxPayloadSize int = 400000

const (
	TraceAttributeEntityID string = "entity-id"
	TraceAttributeService  string = "fiware-service"
)

var tracer = otel.Tracer("streetlight-sync/ngsiv2-client")

func Debug(enabled string) func(*cbClient) {
	return func(c *cbClient) {
		c.debug = (enabled == "true")
	}
}

// Service sets the multi tenancy service and service path headers.
func Service(service, servicePath string) func(*cbClient) {
	return func(c *cbClient) {
		c.service = service
		c.servicePath = servicePath
	}
}

func MaxPayloadSize(size int) func(*cbClient) {
	return func(c *cbClient) {
		c.maxPayloadSize = size
	}
}

func Tokens(provider TokenProvider) func(*cbClient) {
	return func(c *cbClient) {
		c.tokens = provider
	}
}

func NewContextBrokerClient(broker string, options ...func(*cbClient)) ContextBrokerClient {
	c := &cbClient{
		baseURL:        broker,
		maxPayloadSize: DefaultMaxPayloadSize,
	}

	for _, option := range options {
		option(c)
	}

	return c
}

type cbClient struct {
	baseURL        string
	service        string
	servicePath    string
	maxPayloadSize int
	debug          bool
	tokens         TokenProvider
}

func (c cbClient) RetrieveEntity(ctx context.Context, entityID, entityType string) (*types.Entity, error) {
	var err error

	ctx, span := tracer.Start(ctx, "retrieve-entity",
		trace.WithAttributes(attribute.String(TraceAttributeEntityID, entityID)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	endpoint := fmt.Sprintf("%s/entities/%s?type=%s", c.baseURL, url.PathEscape(entityID), url.QueryEscape(entityType))

	resp, respBody, err := c.callBroker(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		err = NewErrorFromResponse(resp.StatusCode, respBody)
		return nil, err
	}

	e := &types.Entity{}
	if err = json.Unmarshal(respBody, e); err != nil {
		err = fmt.Errorf("failed to unmarshal entity %s: %s (%w)", entityID, err.Error(), ErrBadResponse)
		return nil, err
	}

	return e, nil
}

func (c cbClient) RetrieveAttribute(ctx context.Context, entityID, entityType, attributeName string) (*types.Attribute, error) {
	var err error

	ctx, span := tracer.Start(ctx, "retrieve-attribute",
		trace.WithAttributes(attribute.String(TraceAttributeEntityID, entityID)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	endpoint := fmt.Sprintf("%s/entities/%s/attrs/%s?type=%s",
		c.baseURL, url.PathEscape(entityID), url.PathEscape(attributeName), url.QueryEscape(entityType))

	resp, respBody, err := c.callBroker(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		err = NewErrorFromResponse(resp.StatusCode, respBody)
		return nil, err
	}

	a := &types.Attribute{}
	if err = json.Unmarshal(respBody, a); err != nil {
		err = fmt.Errorf("failed to unmarshal attribute %s of entity %s: %s (%w)", attributeName, entityID, err.Error(), ErrBadResponse)
		return nil, err
	}

	return a, nil
}

func (c cbClient) CreateEntities(ctx context.Context, entities []*types.Entity) error {
	var err error

	ctx, span := tracer.Start(ctx, "create-entities")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	err = c.batchUpdate(ctx, "append", entities)
	return err
}

func (c cbClient) AppendToEntities(ctx context.Context, fragments []*types.Entity) error {
	var err error

	ctx, span := tracer.Start(ctx, "append-to-entities")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	err = c.batchUpdate(ctx, "append", fragments)
	return err
}

func (c cbClient) UpdateAttributes(ctx context.Context, fragments []*types.Entity) error {
	var err error

	ctx, span := tracer.Start(ctx, "update-attributes")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	err = c.batchUpdate(ctx, "update", fragments)
	return err
}

// batchUpdate posts the given entities or fragments as op/update batches,
// partitioned to respect the payload ceiling. All partitions are attempted
// even if one of them fails.
func (c cbClient) batchUpdate(ctx context.Context, actionType string, entities []*types.Entity) error {
	log := logging.GetFromContext(ctx)

	var errs []error

	for _, part := range tools.Partition(entities, c.maxPayloadSize) {
		payload := struct {
			ActionType string          `json:"actionType"`
			Entities   []*types.Entity `json:"entities"`
		}{actionType, part}

		body, err := json.Marshal(payload)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to marshal op/update payload: %w", err))
			continue
		}

		resp, respBody, err := c.callBroker(ctx, http.MethodPost, c.baseURL+"/op/update", body)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if resp.StatusCode/100 != 2 {
			errs = append(errs, NewErrorFromResponse(resp.StatusCode, respBody))
			continue
		}

		log.Debug("op/update batch accepted", "action", actionType, "count", len(part))
	}

	return errors.Join(errs...)
}

func (c cbClient) ListEntities(ctx context.Context) ([]EntityRef, error) {
	var err error

	ctx, span := tracer.Start(ctx, "list-entities")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	refs := []EntityRef{}
	offset := 0
	count := 1

	for offset < count {
		endpoint := fmt.Sprintf("%s/entities?options=count&offset=%d", c.baseURL, offset)

		resp, respBody, callErr := c.callBroker(ctx, http.MethodGet, endpoint, nil)
		if callErr != nil {
			err = callErr
			return nil, err
		}

		if resp.StatusCode != http.StatusOK {
			err = NewErrorFromResponse(resp.StatusCode, respBody)
			return nil, err
		}

		page := []EntityRef{}
		if err = json.Unmarshal(respBody, &page); err != nil {
			err = fmt.Errorf("failed to unmarshal entity list: %s (%w)", err.Error(), ErrBadResponse)
			return nil, err
		}

		refs = append(refs, page...)
		offset = len(refs)
		count = totalCountFromResponse(resp, count)

		if len(page) == 0 {
			break
		}
	}

	return refs, nil
}

func (c cbClient) DeleteEntity(ctx context.Context, entityID, entityType string) error {
	var err error

	ctx, span := tracer.Start(ctx, "delete-entity",
		trace.WithAttributes(attribute.String(TraceAttributeEntityID, entityID)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	endpoint := fmt.Sprintf("%s/entities/%s?type=%s", c.baseURL, url.PathEscape(entityID), url.QueryEscape(entityType))

	resp, respBody, err := c.callBroker(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusNoContent {
		err = NewErrorFromResponse(resp.StatusCode, respBody)
		return err
	}

	return nil
}

func (c cbClient) ListSubscriptions(ctx context.Context) ([]subscriptions.Subscription, error) {
	var err error

	ctx, span := tracer.Start(ctx, "list-subscriptions")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	subs := []subscriptions.Subscription{}
	offset := 0
	count := 1

	for offset < count {
		endpoint := fmt.Sprintf("%s/subscriptions?options=count&offset=%d", c.baseURL, offset)

		resp, respBody, callErr := c.callBroker(ctx, http.MethodGet, endpoint, nil)
		if callErr != nil {
			err = callErr
			return nil, err
		}

		if resp.StatusCode != http.StatusOK {
			err = NewErrorFromResponse(resp.StatusCode, respBody)
			return nil, err
		}

		page := []subscriptions.Subscription{}
		if err = json.Unmarshal(respBody, &page); err != nil {
			err = fmt.Errorf("failed to unmarshal subscription list: %s (%w)", err.Error(), ErrBadResponse)
			return nil, err
		}

		subs = append(subs, page...)
		offset = len(subs)
		count = totalCountFromResponse(resp, count)

		if len(page) == 0 {
			break
		}
	}

	return subs, nil
}

func (c cbClient) CreateSubscription(ctx context.Context, sub subscriptions.Subscription) error {
	var err error

	ctx, span := tracer.Start(ctx, "create-subscription")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	body, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	resp, respBody, err := c.callBroker(ctx, http.MethodPost, c.baseURL+"/subscriptions", body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusCreated {
		err = NewErrorFromResponse(resp.StatusCode, respBody)
		return err
	}

	return nil
}

func (c cbClient) DeleteSubscription(ctx context.Context, subscriptionID string) error {
	var err error

	ctx, span := tracer.Start(ctx, "delete-subscription")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	endpoint := c.baseURL + "/subscriptions/" + url.PathEscape(subscriptionID)

	resp, respBody, err := c.callBroker(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusNoContent {
		err = NewErrorFromResponse(resp.StatusCode, respBody)
		return err
	}

	return nil
}

func (c cbClient) callBroker(ctx context.Context, method, endpoint string, body []byte) (*http.Response, []byte, error) {
	resp, respBody, err := c.doRequest(ctx, method, endpoint, body)
	if err != nil {
		return nil, nil, err
	}

	// a rejected token is refreshed and the same call retried exactly once
	if c.tokens != nil && isTokenError(resp.StatusCode, respBody) && c.tokens.Refresh(ctx) {
		return c.doRequest(ctx, method, endpoint, body)
	}

	return resp, respBody, nil
}

func (c cbClient) doRequest(ctx context.Context, method, endpoint string, body []byte) (*http.Response, []byte, error) {
	httpClient := http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %s (%w)", err.Error(), ErrInternal)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.service != "" {
		req.Header.Set("Fiware-Service", c.service)
	}
	if c.servicePath != "" {
		req.Header.Set("Fiware-ServicePath", c.servicePath)
	}

	if c.tokens != nil {
		c.tokens.Apply(req)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to send request: %s (%w)", err.Error(), ErrRequest)
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %s (%w)", err.Error(), ErrBadResponse)
	}

	if c.debug && resp.StatusCode >= http.StatusBadRequest && resp.StatusCode != http.StatusNotFound {
		reqbytes, _ := httputil.DumpRequest(req, false)
		respbytes, _ := httputil.DumpResponse(resp, false)

		log := logging.GetFromContext(ctx)
		log.Error("request failed", "request", string(reqbytes), "response", string(respbytes))
	}

	return resp, respBody, nil
}

func totalCountFromResponse(r *http.Response, fallback int) int {
	val := r.Header.Get("Fiware-Total-Count")
	if val == "" {
		return fallback
	}

	count, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}

	return count
}
