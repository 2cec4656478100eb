package managedsubscribe

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sdv-edge/dtcore/dtlog"
	"github.com/sdv-edge/dtcore/intercept"
	"github.com/sdv-edge/dtcore/registry"
)

const (
	// ServiceName and MethodName are the gRPC service/method pair this
	// interceptor applies to, matching the reference interceptor's
	// "InvehicleDigitalTwin.Register" applicability check.
	ServiceName = "InvehicleDigitalTwin"
	MethodName  = "Register"

	// SubscriptionInfoContext is the context tag recorded on a rewritten
	// record, naming the bridge operation a consumer must call to get
	// real subscription details.
	SubscriptionInfoContext = "GetSubscriptionInfo"

	bridgeProtocol = "grpc"
)

// Interceptor rewrites every Register call: for each record advertising
// ManagedSubscribe, it captures the provider's real callback in Store
// and replaces the record's endpoint with the bridge's own address, so
// consumers are routed through GetSubscriptionInfo instead of talking to
// the provider's publish endpoint directly.
//
// The rewrite is idempotent: re-registering the same record overwrites
// the stored callback with an identical value and produces the same
// rewritten URI and context.
type Interceptor struct {
	intercept.Base

	BridgeURI string
	Store     *Store
	Logger    dtlog.Logger
}

// NewInterceptor builds an Interceptor that redirects managed-subscribe
// endpoints to bridgeURI.
func NewInterceptor(bridgeURI string, store *Store) *Interceptor {
	logger := dtlog.Logger(dtlog.Nop{})
	return &Interceptor{
		Base:      intercept.Base{InterceptorName: "managed-subscribe"},
		BridgeURI: bridgeURI,
		Store:     store,
		Logger:    logger,
	}
}

func (i *Interceptor) IsApplicable(serviceName, methodName string) bool {
	return serviceName == ServiceName && methodName == MethodName
}

// OnRequest expects call.Payload to be a JSON-encoded []registry.Record —
// the Register operation's argument — and returns the rewritten list in
// the same shape.
func (i *Interceptor) OnRequest(_ context.Context, call intercept.Call) (intercept.Call, *intercept.Response) {
	var records []registry.Record
	if err := json.Unmarshal(call.Payload, &records); err != nil {
		return call, &intercept.Response{Err: fmt.Errorf("managedsubscribe: decode register payload: %w", err)}
	}

	for idx := range records {
		rec := &records[idx]
		if !rec.HasOperation(registry.OpManagedSubscribe) {
			continue
		}

		callback := CallbackInfo{URI: rec.URI, Protocol: rec.Protocol}
		i.Store.AddEntity(rec.InstanceID, callback)
		i.Logger.Info("managedsubscribe: captured provider callback", "instance", rec.InstanceID, "callback_uri", callback.URI)

		rec.URI = i.BridgeURI
		rec.Protocol = bridgeProtocol
		rec.Operations = []registry.Operation{registry.OpManagedSubscribe}
		rec.Context = SubscriptionInfoContext
	}

	out, err := json.Marshal(records)
	if err != nil {
		return call, &intercept.Response{Err: fmt.Errorf("managedsubscribe: encode rewritten register payload: %w", err)}
	}
	return intercept.Call{ServiceName: call.ServiceName, MethodName: call.MethodName, Payload: out}, nil
}
