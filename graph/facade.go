// Package graph implements the Graph Facade: the consumer-facing API
// that presents the registry as a set of navigable typed instances,
// backed by asynchronous Ask/Answer calls to whichever provider the
// registry names for a given instance or model id.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/golobby/cast"
	"github.com/google/uuid"

	"github.com/sdv-edge/dtcore/asyncrpc"
	"github.com/sdv-edge/dtcore/dtlog"
	"github.com/sdv-edge/dtcore/registry"
)

// State is a graph operation's position in its state machine. No retry
// is performed by the facade; a terminal state is returned to the
// consumer as-is.
type State string

const (
	StateResolving     State = "Resolving"
	StateDispatched    State = "Dispatched"
	StateAnswered      State = "Answered"
	StateTimedOut      State = "TimedOut"
	StateResolveFailed State = "ResolveFailed"
)

// FindResult is one entry of a Find's fan-out: either a successful answer
// or a diagnostic explaining why a given provider contributed nothing.
type FindResult struct {
	ProviderID string
	InstanceID string
	Payload    []byte
	Err        error
}

// Facade is the Graph service. The zero value is not usable; construct
// with New.
type Facade struct {
	Registry   *registry.Registry
	Correlator *asyncrpc.Correlator
	Dispatcher asyncrpc.Dispatcher
	AskSource  string
	RespondURI string
	AskTimeout time.Duration
	Logger     dtlog.Logger
}

// New builds a Facade with a default 5 second ask timeout, matching the
// default in spec's configuration surface.
func New(reg *registry.Registry, correlator *asyncrpc.Correlator, dispatcher asyncrpc.Dispatcher, askSource, respondURI string) *Facade {
	return &Facade{
		Registry:   reg,
		Correlator: correlator,
		Dispatcher: dispatcher,
		AskSource:  askSource,
		RespondURI: respondURI,
		AskTimeout: 5 * time.Second,
		Logger:     dtlog.Nop{},
	}
}

// selectRecord applies the facade's deterministic tie-break: among the
// candidates that advertise op, the one whose (provider id, instance id)
// pair is lexicographically smallest wins. Candidates is left unmodified;
// only a filtered copy is sorted.
func selectRecord(candidates []registry.Record, op registry.Operation) (registry.Record, bool) {
	filtered := make([]registry.Record, 0, len(candidates))
	for _, c := range candidates {
		if c.HasOperation(op) {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		return registry.Record{}, false
	}
	registry.ByProviderThenInstance(filtered)
	return filtered[0], true
}

// Find queries the registry by model id and issues a parallel Get ask to
// every matching provider that advertises Get. Providers that error or
// time out are omitted from the payload list but reported as diagnostic
// entries; Find itself never returns an error.
func (f *Facade) Find(ctx context.Context, modelID string) []FindResult {
	recs := f.Registry.FindByModelID(modelID)

	type indexed struct {
		idx int
		res FindResult
	}
	resultsCh := make(chan indexed, len(recs))

	n := 0
	for i, rec := range recs {
		if !rec.HasOperation(registry.OpGet) {
			continue
		}
		n++
		go func(i int, rec registry.Record) {
			payload, err := f.ask(ctx, rec, registry.OpGet, "", nil)
			resultsCh <- indexed{i, FindResult{ProviderID: rec.ProviderID, InstanceID: rec.InstanceID, Payload: payload, Err: err}}
		}(i, rec)
	}

	ordered := make([]FindResult, len(recs))
	have := make([]bool, len(recs))
	for done := 0; done < n; done++ {
		r := <-resultsCh
		ordered[r.idx] = r.res
		have[r.idx] = true
	}

	out := make([]FindResult, 0, n)
	for i, ok := range have {
		if ok {
			if ordered[i].Err != nil {
				f.Logger.Warn("find: provider answer omitted", "provider", ordered[i].ProviderID, "instance", ordered[i].InstanceID, "error", ordered[i].Err)
			}
			out = append(out, ordered[i])
		}
	}
	return out
}

// Get returns the provider's answer for a single instance and member
// path, or ErrNotFound / ErrUnavailable.
func (f *Facade) Get(ctx context.Context, instanceID, memberPath string) ([]byte, error) {
	rec, ok := f.selectForInstance(instanceID, registry.OpGet)
	if !ok {
		return nil, fmt.Errorf("graph: %w: no Get provider for instance %q", ErrNotFound, instanceID)
	}
	return f.ask(ctx, rec, registry.OpGet, memberPath, nil)
}

// GetAs decodes Get's answer payload as JSON into a scalar value and
// coerces it into *out using golobby/cast, so a caller can request an
// int, float, bool or string without hand-rolling the conversion.
func (f *Facade) GetAs(ctx context.Context, instanceID, memberPath string, out interface{}) error {
	raw, err := f.Get(ctx, instanceID, memberPath)
	if err != nil {
		return err
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("graph: decode answer payload: %w", err)
	}

	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("graph: GetAs requires a non-nil pointer")
	}
	converted, err := cast.FromType(fmt.Sprint(decoded), rv.Elem().Type())
	if err != nil {
		return fmt.Errorf("graph: coerce answer payload: %w", err)
	}
	rv.Elem().Set(reflect.ValueOf(converted))
	return nil
}

// Set dispatches a Set ask carrying value as the payload. Success is an
// empty answer; any non-empty answer is ignored per the facade contract.
func (f *Facade) Set(ctx context.Context, instanceID, memberPath string, value []byte) error {
	rec, ok := f.selectForInstance(instanceID, registry.OpSet)
	if !ok {
		return fmt.Errorf("graph: %w: no Set provider for instance %q", ErrNotFound, instanceID)
	}
	_, err := f.ask(ctx, rec, registry.OpSet, memberPath, value)
	return err
}

// Invoke dispatches an Invoke ask using command as the member path and
// returns the provider's answer payload.
func (f *Facade) Invoke(ctx context.Context, instanceID, command string, requestPayload []byte) ([]byte, error) {
	rec, ok := f.selectForInstance(instanceID, registry.OpInvoke)
	if !ok {
		return nil, fmt.Errorf("graph: %w: no Invoke provider for instance %q", ErrNotFound, instanceID)
	}
	return f.ask(ctx, rec, registry.OpInvoke, command, requestPayload)
}

func (f *Facade) selectForInstance(instanceID string, op registry.Operation) (registry.Record, bool) {
	return selectRecord(f.Registry.FindByInstanceID(instanceID), op)
}

// ask drives one graph operation's state machine: Resolving (already
// past, by the time ask is called: the record was selected) →
// Dispatched → Answered | TimedOut | ResolveFailed.
func (f *Facade) ask(ctx context.Context, rec registry.Record, op registry.Operation, memberPath string, payload []byte) ([]byte, error) {
	askID := uuid.NewString()
	state := StateDispatched

	event, err := asyncrpc.NewAskEvent(askID, f.AskSource, f.RespondURI, asyncrpc.TargetedPayload{
		InstanceID: rec.InstanceID,
		MemberPath: memberPath,
		Operation:  string(op),
		Payload:    payload,
	})
	if err != nil {
		return nil, fmt.Errorf("graph: %w: build ask event: %v", ErrResolveFailed, err)
	}

	wait := f.Correlator.Open(askID, rec.InstanceID)

	if err := f.Dispatcher.Dispatch(ctx, rec.URI, event); err != nil {
		f.Correlator.Cancel(askID)
		state = StateResolveFailed
		f.Logger.Error("graph: dispatch failed", "ask_id", askID, "provider", rec.ProviderID, "state", state)
		return nil, fmt.Errorf("graph: %w: %v", ErrUnavailable, err)
	}

	answer, err := wait(ctx, f.AskTimeout)
	if err != nil {
		state = StateTimedOut
		f.Logger.Warn("graph: ask did not complete", "ask_id", askID, "provider", rec.ProviderID, "state", state, "error", err)
		return nil, fmt.Errorf("graph: %w: ask %s to provider %s: %v", ErrUnavailable, askID, rec.ProviderID, err)
	}

	state = StateAnswered
	f.Logger.Debug("graph: ask answered", "ask_id", askID, "provider", rec.ProviderID, "state", state)
	return answer.Payload, nil
}
