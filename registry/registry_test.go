package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ambientTempRecord() Record {
	return Record{
		ProviderID: "provider-hvac",
		InstanceID: "hvac-1",
		ModelID:    "dtmi:sdv:hvac:ambient_air_temperature;1",
		Protocol:   "grpc",
		URI:        "http://[::1]:40010",
		Operations: []Operation{OpSubscribe, OpUnsubscribe},
	}
}

// S1: register then find by model id returns the record.
func TestRegister_FindByModelID(t *testing.T) {
	reg := New()
	rec := ambientTempRecord()

	require.NoError(t, reg.Register([]Record{rec}))

	got := reg.FindByModelID(rec.ModelID)
	require.Len(t, got, 1)
	assert.Equal(t, rec, got[0])
}

func TestRegister_FindByInstanceID(t *testing.T) {
	reg := New()
	rec := ambientTempRecord()
	require.NoError(t, reg.Register([]Record{rec}))

	got := reg.FindByInstanceID(rec.InstanceID)
	require.Len(t, got, 1)
	assert.Equal(t, rec, got[0])
}

// S4: registering a record with an identical (provider, instance, model,
// protocol) key replaces the previous one rather than accumulating.
func TestRegister_ReplacesOnSameKey(t *testing.T) {
	reg := New()
	rec := ambientTempRecord()
	require.NoError(t, reg.Register([]Record{rec}))

	updated := rec
	updated.URI = "http://[::1]:50020"
	updated.Operations = []Operation{OpSubscribe}
	require.NoError(t, reg.Register([]Record{updated}))

	got := reg.FindByModelID(rec.ModelID)
	require.Len(t, got, 1)
	assert.Equal(t, "http://[::1]:50020", got[0].URI)
	assert.Equal(t, []Operation{OpSubscribe}, got[0].Operations)
}

func TestRegister_DifferentProtocolDoesNotReplace(t *testing.T) {
	reg := New()
	rec := ambientTempRecord()
	require.NoError(t, reg.Register([]Record{rec}))

	other := rec
	other.Protocol = "http"
	require.NoError(t, reg.Register([]Record{other}))

	got := reg.FindByModelID(rec.ModelID)
	assert.Len(t, got, 2)
}

// Ordering: multiple providers for one model id come back sorted by
// (provider id, instance id) ascending, regardless of registration order.
func TestFindByModelID_SortedByProviderThenInstance(t *testing.T) {
	reg := New()
	modelID := "dtmi:sdv:hvac:ambient_air_temperature;1"

	recs := []Record{
		{ProviderID: "provider-b", InstanceID: "i2", ModelID: modelID, Protocol: "grpc", Operations: []Operation{OpGet}},
		{ProviderID: "provider-a", InstanceID: "i1", ModelID: modelID, Protocol: "grpc", Operations: []Operation{OpGet}},
		{ProviderID: "provider-a", InstanceID: "i0", ModelID: modelID, Protocol: "grpc", Operations: []Operation{OpGet}},
	}
	for _, r := range recs {
		require.NoError(t, reg.Register([]Record{r}))
	}

	got := reg.FindByModelID(modelID)
	require.Len(t, got, 3)
	assert.Equal(t, "provider-a", got[0].ProviderID)
	assert.Equal(t, "i0", got[0].InstanceID)
	assert.Equal(t, "provider-a", got[1].ProviderID)
	assert.Equal(t, "i1", got[1].InstanceID)
	assert.Equal(t, "provider-b", got[2].ProviderID)
}

func TestRegister_RejectsEmptyIdentity(t *testing.T) {
	reg := New()
	good := ambientTempRecord()
	bad := ambientTempRecord()
	bad.InstanceID = ""

	err := reg.Register([]Record{good, bad})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRecord)

	// the batch must not partially apply: a second valid record in the
	// same call must also not be visible.
	assert.Empty(t, reg.FindByModelID(bad.ModelID))
}

func TestRegister_RejectsUnknownOperation(t *testing.T) {
	reg := New()
	bad := ambientTempRecord()
	bad.Operations = []Operation{Operation("Teleport")}

	err := reg.Register([]Record{bad})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownOperation) || errors.Is(err, ErrInvalidRecord))
}

func TestRegister_DedupesOperationTags(t *testing.T) {
	reg := New()
	rec := ambientTempRecord()
	rec.Operations = []Operation{OpGet, OpGet, OpSet}
	require.NoError(t, reg.Register([]Record{rec}))

	got := reg.FindByModelID(rec.ModelID)
	require.Len(t, got, 1)
	assert.ElementsMatch(t, []Operation{OpGet, OpSet}, got[0].Operations)
}

func TestFindByID_InstanceFirstThenModel(t *testing.T) {
	reg := New()
	rec := ambientTempRecord()
	require.NoError(t, reg.Register([]Record{rec}))

	byInstance, err := reg.FindByID(rec.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, rec, byInstance)

	byModel, err := reg.FindByID(rec.ModelID)
	require.NoError(t, err)
	assert.Equal(t, rec, byModel)
}

func TestFindByID_NotFound(t *testing.T) {
	reg := New()
	_, err := reg.FindByID("does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParseModelID(t *testing.T) {
	v, err := ParseModelID("dtmi:sdv:hvac:ambient_air_temperature;1")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = ParseModelID("dtmi:sdv:hvac:ambient_air_temperature")
	assert.Error(t, err)

	_, err = ParseModelID("dtmi:sdv::hvac;1")
	assert.Error(t, err)

	_, err = ParseModelID("dtmi:sdv:hvac;0")
	assert.Error(t, err)
}
