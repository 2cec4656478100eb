// Package intercept implements the request interception layer: a
// composable, ordered pipeline of transforms that every inbound RPC
// passes through on the way to its service implementation and back.
//
// It generalizes the tower-based gRPC interceptor from the reference
// implementation (service name / method name applicability, separate
// request and response handling) to a transport-agnostic in-process
// Call value, so the same pipeline can sit in front of an HTTP binding,
// a direct Go-level caller, or a test harness without adapting each
// Interceptor to a specific transport.
package intercept

import "context"

// Call is one inbound RPC as seen by the interception layer: a service
// name, a method name, and an opaque payload. Interceptors may replace
// Payload but must leave ServiceName and MethodName untouched.
type Call struct {
	ServiceName string
	MethodName  string
	Payload     []byte
}

// Response is the outcome of a Call: either a payload or an error, never
// both.
type Response struct {
	Payload []byte
	Err     error
}

// Handler is the terminal step of a pipeline: the actual service
// implementation, or the next layer downstream (for example the
// registry's Register operation).
type Handler func(ctx context.Context, call Call) Response

// Interceptor is one stage of the pipeline. IsApplicable is checked
// against every call; an interceptor that is not applicable, or that is
// disabled, is skipped entirely on both the request and response path —
// it must be pure with respect to calls it does not apply to.
type Interceptor interface {
	// Name identifies the interceptor for logging and configuration.
	Name() string

	// Enabled reports whether this interceptor is active. Resolved once
	// from static configuration at startup; pipelines re-check it on
	// every call so a config reload can disable an interceptor without
	// rebuilding the pipeline.
	Enabled() bool

	// IsApplicable reports whether this interceptor handles calls to the
	// given service/method pair. Unknown RPC names — calls no configured
	// interceptor claims — pass through untouched.
	IsApplicable(serviceName, methodName string) bool

	// OnRequest transforms an inbound call. Returning a non-nil short
	// circuits the pipeline: downstream interceptors and the handler are
	// not invoked, and the returned Response is run back through the
	// response path of interceptors already visited.
	OnRequest(ctx context.Context, call Call) (Call, *Response)

	// OnResponse transforms an outbound response. Called on the way back
	// even when OnRequest did not modify the call, in reverse
	// registration order.
	OnResponse(ctx context.Context, resp Response) Response
}

// Pipeline runs a fixed, ordered set of Interceptors in front of a
// Handler. Interceptors run in configured order on the request path and
// in reverse order on the response path, per the interception contract.
type Pipeline struct {
	interceptors []Interceptor
	handler      Handler
}

// New builds a Pipeline. Order matters: interceptors[0] sees the request
// first and the response last.
func New(handler Handler, interceptors ...Interceptor) *Pipeline {
	return &Pipeline{interceptors: interceptors, handler: handler}
}

// Run drives a Call through the pipeline and back.
func (p *Pipeline) Run(ctx context.Context, call Call) Response {
	applicable := make([]Interceptor, 0, len(p.interceptors))
	for _, ic := range p.interceptors {
		if !ic.Enabled() {
			continue
		}
		if !ic.IsApplicable(call.ServiceName, call.MethodName) {
			continue
		}
		applicable = append(applicable, ic)
	}

	visited := make([]Interceptor, 0, len(applicable))
	var resp Response
	shortCircuited := false

	for _, ic := range applicable {
		visited = append(visited, ic)
		newCall, shortCircuit := ic.OnRequest(ctx, call)
		call = newCall
		if shortCircuit != nil {
			resp = *shortCircuit
			shortCircuited = true
			break
		}
	}

	if !shortCircuited {
		resp = p.handler(ctx, call)
	}

	for i := len(visited) - 1; i >= 0; i-- {
		resp = visited[i].OnResponse(ctx, resp)
	}
	return resp
}
