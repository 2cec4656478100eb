package intercept

import "context"

// Base is an embeddable no-op Interceptor: it is enabled unless Disabled
// is set, applies to no call, and passes both directions through unchanged. Concrete
// interceptors embed Base and override only the methods they need,
// mirroring the reference interceptor's pattern of implementing only
// handle_request or handle_response when the other direction is a no-op.
type Base struct {
	InterceptorName string
	Disabled        bool
}

func (b Base) Name() string { return b.InterceptorName }

func (b Base) Enabled() bool { return !b.Disabled }

func (b Base) IsApplicable(string, string) bool { return false }

func (b Base) OnRequest(_ context.Context, call Call) (Call, *Response) {
	return call, nil
}

func (b Base) OnResponse(_ context.Context, resp Response) Response {
	return resp
}
