package managedsubscribe

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdv-edge/dtcore/intercept"
	"github.com/sdv-edge/dtcore/registry"
)

func registerCall(t *testing.T, recs []registry.Record) intercept.Call {
	t.Helper()
	payload, err := json.Marshal(recs)
	require.NoError(t, err)
	return intercept.Call{ServiceName: ServiceName, MethodName: MethodName, Payload: payload}
}

// S6: ManagedSubscribe rewrite.
func TestInterceptor_RewritesManagedSubscribeRecord(t *testing.T) {
	store := NewStore()
	ic := NewInterceptor("dtcore://bridge", store)

	rec := registry.Record{
		ProviderID: "p1", InstanceID: "i1", ModelID: "dtmi:x:A;1", Protocol: "grpc",
		URI: "provider_cb", Operations: []registry.Operation{registry.OpManagedSubscribe},
	}

	newCall, shortCircuit := ic.OnRequest(context.Background(), registerCall(t, []registry.Record{rec}))
	require.Nil(t, shortCircuit)

	var rewritten []registry.Record
	require.NoError(t, json.Unmarshal(newCall.Payload, &rewritten))
	require.Len(t, rewritten, 1)

	assert.Equal(t, "dtcore://bridge", rewritten[0].URI)
	assert.Equal(t, SubscriptionInfoContext, rewritten[0].Context)
	assert.Equal(t, []registry.Operation{registry.OpManagedSubscribe}, rewritten[0].Operations)

	meta, ok := store.EntityMetadata("i1")
	require.True(t, ok)
	assert.Equal(t, "provider_cb", meta.Callback.URI)
}

func TestInterceptor_RewriteIsIdempotent(t *testing.T) {
	store := NewStore()
	ic := NewInterceptor("dtcore://bridge", store)

	rec := registry.Record{
		ProviderID: "p1", InstanceID: "i1", ModelID: "dtmi:x:A;1", Protocol: "grpc",
		URI: "provider_cb", Operations: []registry.Operation{registry.OpManagedSubscribe},
	}

	first, _ := ic.OnRequest(context.Background(), registerCall(t, []registry.Record{rec}))
	second, _ := ic.OnRequest(context.Background(), registerCall(t, []registry.Record{rec}))

	assert.JSONEq(t, string(first.Payload), string(second.Payload))

	meta, ok := store.EntityMetadata("i1")
	require.True(t, ok)
	assert.Equal(t, "provider_cb", meta.Callback.URI)
}

func TestInterceptor_LeavesNonManagedSubscribeRecordsUntouched(t *testing.T) {
	store := NewStore()
	ic := NewInterceptor("dtcore://bridge", store)

	rec := registry.Record{
		ProviderID: "p1", InstanceID: "i1", ModelID: "dtmi:x:A;1", Protocol: "grpc",
		URI: "u1", Operations: []registry.Operation{registry.OpGet},
	}

	newCall, _ := ic.OnRequest(context.Background(), registerCall(t, []registry.Record{rec}))

	var rewritten []registry.Record
	require.NoError(t, json.Unmarshal(newCall.Payload, &rewritten))
	require.Len(t, rewritten, 1)
	assert.Equal(t, "u1", rewritten[0].URI)
	assert.False(t, store.ContainsEntity("i1"))
}

func TestInterceptor_IsApplicable(t *testing.T) {
	store := NewStore()
	ic := NewInterceptor("dtcore://bridge", store)

	assert.True(t, ic.IsApplicable(ServiceName, MethodName))
	assert.False(t, ic.IsApplicable(ServiceName, "Unregister"))
	assert.False(t, ic.IsApplicable("OtherService", MethodName))
}
