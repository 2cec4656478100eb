package asyncrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// EventType is the CloudEvents type tag used for every ask envelope this
// package produces.
const EventType = "dev.sdv.dtcore.ask"

// TargetedPayload is the body of an ask: the instance, member, and
// operation it targets, plus the caller-supplied payload — the same
// shape the graph facade hands to asyncrpc for every Get/Set/Invoke.
type TargetedPayload struct {
	InstanceID string          `json:"instance_id"`
	MemberPath string          `json:"member_path"`
	Operation  string          `json:"operation"`
	Payload    []byte          `json:"payload,omitempty"`
}

// NewAskEvent builds the CloudEvents envelope for an ask: the ask id is
// carried as both the CloudEvents id and subject, so a provider can
// correlate without parsing the JSON body, and askSource identifies the
// issuing runtime.
func NewAskEvent(askID, askSource, respondURI string, payload TargetedPayload) (cloudevents.Event, error) {
	event := cloudevents.NewEvent()
	event.SetID(askID)
	event.SetSubject(askID)
	event.SetSource(askSource)
	event.SetType(EventType)
	event.SetExtension("respondasyncrpcuri", respondURI)

	if err := event.SetData(cloudevents.ApplicationJSON, payload); err != nil {
		return cloudevents.Event{}, fmt.Errorf("asyncrpc: encode ask event: %w", err)
	}
	return event, nil
}

// AnswerPayload is the wire shape a provider posts back to the respond
// surface named by an ask's "respondasyncrpcuri" extension: the payload
// it is answering with, or an error string if it could not serve the
// ask.
type AnswerPayload struct {
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Dispatcher sends an ask envelope to a provider endpoint. Implementations
// must not block past ctx's deadline.
type Dispatcher interface {
	Dispatch(ctx context.Context, uri string, event cloudevents.Event) error
}

// HTTPDispatcher is the shipped Dispatcher: it POSTs the CloudEvents
// envelope as structured-mode JSON to uri.
type HTTPDispatcher struct {
	Client *http.Client
}

// NewHTTPDispatcher builds an HTTPDispatcher with the given per-request
// timeout as the underlying client's default.
func NewHTTPDispatcher(timeout time.Duration) *HTTPDispatcher {
	return &HTTPDispatcher{Client: &http.Client{Timeout: timeout}}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, uri string, event cloudevents.Event) error {
	body, err := event.MarshalJSON()
	if err != nil {
		return fmt.Errorf("%w: encode event: %v", ErrDispatchFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrDispatchFailed, err)
	}
	req.Header.Set("Content-Type", "application/cloudevents+json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: provider returned status %d", ErrDispatchFailed, resp.StatusCode)
	}
	return nil
}
