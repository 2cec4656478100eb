// Package features runs the §8 scenarios a second time as a godog BDD
// suite, the way the reference application pairs its table-driven Go
// tests with one human-readable Gherkin regression fixture.
package features

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cucumber/godog"

	"github.com/sdv-edge/dtcore/asyncrpc"
	"github.com/sdv-edge/dtcore/graph"
	"github.com/sdv-edge/dtcore/intercept"
	"github.com/sdv-edge/dtcore/managedsubscribe"
	"github.com/sdv-edge/dtcore/registry"
)

// scriptedDispatcher simulates providers for the graph scenarios, the
// same fake used by the graph package's own unit tests.
type scriptedDispatcher struct {
	correlator *asyncrpc.Correlator
	behaviors  map[string]func(askID string)
}

func newScriptedDispatcher(correlator *asyncrpc.Correlator) *scriptedDispatcher {
	return &scriptedDispatcher{correlator: correlator, behaviors: make(map[string]func(askID string))}
}

func (d *scriptedDispatcher) answers(uri, payload string) {
	d.behaviors[uri] = func(askID string) {
		_ = d.correlator.Deliver(askID, asyncrpc.Answer{Payload: []byte(payload)})
	}
}

func (d *scriptedDispatcher) silent(uri string) {
	d.behaviors[uri] = func(askID string) {}
}

func (d *scriptedDispatcher) Dispatch(ctx context.Context, uri string, event cloudevents.Event) error {
	behavior, ok := d.behaviors[uri]
	if !ok {
		return nil
	}
	go behavior(event.ID())
	return nil
}

// coreTestContext holds everything one scenario needs across its steps.
type coreTestContext struct {
	reg        *registry.Registry
	correlator *asyncrpc.Correlator
	dispatcher *scriptedDispatcher
	facade     *graph.Facade
	askTimeout time.Duration

	msEnabled     bool
	msBridgeURI   string
	msStore       *managedsubscribe.Store
	msInterceptor *managedsubscribe.Interceptor

	lastGetPayload   []byte
	lastGetErr       error
	lastGetElapsed   time.Duration
	lastFoundRecords []registry.Record

	findResults []graph.FindResult
}

func (c *coreTestContext) reset() {
	c.reg = registry.New()
	c.correlator = asyncrpc.NewCorrelator()
	c.dispatcher = newScriptedDispatcher(c.correlator)
	c.askTimeout = 5 * time.Second
	c.msEnabled = false
	c.msStore = managedsubscribe.NewStore()
}

func (c *coreTestContext) ensureFacade() {
	c.facade = graph.New(c.reg, c.correlator, c.dispatcher, "dtcore://bdd", "http://dtcore/respond")
	c.facade.AskTimeout = c.askTimeout
}

func (c *coreTestContext) anEmptyRegistry() error {
	c.reset()
	return nil
}

func (c *coreTestContext) theAskTimeoutIsMilliseconds(ms int) error {
	c.askTimeout = time.Duration(ms) * time.Millisecond
	return nil
}

func (c *coreTestContext) aProviderAtThatAnswersGetWithPayload(uri, payload string) error {
	c.dispatcher.answers(uri, payload)
	return nil
}

func (c *coreTestContext) aProviderAtThatNeverAnswers(uri string) error {
	c.dispatcher.silent(uri)
	return nil
}

func (c *coreTestContext) managedSubscribeIsEnabledWithBridgeUri(bridgeURI string) error {
	c.msEnabled = true
	c.msBridgeURI = bridgeURI
	c.msInterceptor = managedsubscribe.NewInterceptor(bridgeURI, c.msStore)
	return nil
}

func (c *coreTestContext) iRegisterARecordWithProviderInstanceModelProtocolUriAndOperations(providerID, instanceID, modelID, protocol, uri, opsCSV string) error {
	var ops []registry.Operation
	for _, tag := range strings.Split(opsCSV, ",") {
		ops = append(ops, registry.Operation(strings.TrimSpace(tag)))
	}
	rec := registry.Record{
		ProviderID: providerID, InstanceID: instanceID, ModelID: modelID,
		Protocol: protocol, URI: uri, Operations: ops,
	}

	recs := []registry.Record{rec}
	if c.msEnabled && c.msInterceptor != nil {
		rewritten, err := c.runManagedSubscribeRewrite(recs)
		if err != nil {
			return err
		}
		recs = rewritten
	}
	return c.reg.Register(recs)
}

// runManagedSubscribeRewrite drives the same Interceptor.OnRequest call
// the register pipeline would, so the BDD scenario exercises the real
// rewrite logic instead of a stand-in.
func (c *coreTestContext) runManagedSubscribeRewrite(recs []registry.Record) ([]registry.Record, error) {
	payload, err := json.Marshal(recs)
	if err != nil {
		return nil, err
	}
	call := intercept.Call{ServiceName: managedsubscribe.ServiceName, MethodName: managedsubscribe.MethodName, Payload: payload}
	rewrittenCall, resp := c.msInterceptor.OnRequest(context.Background(), call)
	if resp != nil && resp.Err != nil {
		return nil, resp.Err
	}
	var out []registry.Record
	if err := json.Unmarshal(rewrittenCall.Payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *coreTestContext) findByModelIdReturnsExactlyRecord(modelID string, n int) error {
	c.findResults = nil
	got := c.reg.FindByModelID(modelID)
	if len(got) != n {
		return fmt.Errorf("expected %d records, got %d", n, len(got))
	}
	c.lastFoundRecords = got
	return nil
}

func (c *coreTestContext) findByInstanceIdReturnsExactlyRecord(instanceID string, n int) error {
	got := c.reg.FindByInstanceID(instanceID)
	if len(got) != n {
		return fmt.Errorf("expected %d records, got %d", n, len(got))
	}
	c.lastFoundRecords = got
	return nil
}

func (c *coreTestContext) theReturnedRecordHasUri(uri string) error {
	if len(c.lastFoundRecords) == 0 {
		return fmt.Errorf("no record to check")
	}
	if c.lastFoundRecords[0].URI != uri {
		return fmt.Errorf("expected uri %q, got %q", uri, c.lastFoundRecords[0].URI)
	}
	return nil
}

func (c *coreTestContext) theReturnedRecordHasContext(ctxTag string) error {
	if len(c.lastFoundRecords) == 0 {
		return fmt.Errorf("no record to check")
	}
	if c.lastFoundRecords[0].Context != ctxTag {
		return fmt.Errorf("expected context %q, got %q", ctxTag, c.lastFoundRecords[0].Context)
	}
	return nil
}

func (c *coreTestContext) theManagedSubscribeStoreMapsInstanceBackToCallbackUri(instanceID, callbackURI string) error {
	meta, ok := c.msStore.EntityMetadata(instanceID)
	if !ok {
		return fmt.Errorf("instance %q not found in managed-subscribe store", instanceID)
	}
	if meta.Callback.URI != callbackURI {
		return fmt.Errorf("expected stored callback uri %q, got %q", callbackURI, meta.Callback.URI)
	}
	return nil
}

func (c *coreTestContext) iCallGraphGetForInstanceAndMember(instanceID, member string) error {
	c.ensureFacade()
	start := time.Now()
	payload, err := c.facade.Get(context.Background(), instanceID, member)
	c.lastGetElapsed = time.Since(start)
	c.lastGetPayload, c.lastGetErr = payload, err
	return nil
}

func (c *coreTestContext) theGetCallSucceedsWithPayload(payload string) error {
	if c.lastGetErr != nil {
		return fmt.Errorf("expected success, got error: %v", c.lastGetErr)
	}
	if string(c.lastGetPayload) != payload {
		return fmt.Errorf("expected payload %q, got %q", payload, string(c.lastGetPayload))
	}
	return nil
}

func (c *coreTestContext) theGetCallFailsAsUnavailableWithinTheAskTimeoutPlusMilliseconds(extraMS int) error {
	if c.lastGetErr == nil {
		return fmt.Errorf("expected an error, got none")
	}
	if !errors.Is(c.lastGetErr, graph.ErrUnavailable) {
		return fmt.Errorf("expected an unavailable error, got: %v", c.lastGetErr)
	}
	bound := c.askTimeout + time.Duration(extraMS)*time.Millisecond
	if c.lastGetElapsed >= bound {
		return fmt.Errorf("expected elapsed time under %v, got %v", bound, c.lastGetElapsed)
	}
	return nil
}

func (c *coreTestContext) iCallGraphFindForModel(modelID string) error {
	c.ensureFacade()
	c.findResults = c.facade.Find(context.Background(), modelID)
	return nil
}

func (c *coreTestContext) findReturnsSuccessfulPayloadEqualTo(n int, payload string) error {
	count := 0
	for _, r := range c.findResults {
		if r.Err == nil {
			count++
			if string(r.Payload) != payload {
				return fmt.Errorf("expected successful payload %q, got %q", payload, string(r.Payload))
			}
		}
	}
	if count != n {
		return fmt.Errorf("expected %d successful entries, got %d", n, count)
	}
	return nil
}

func (c *coreTestContext) findReturnsDiagnosticEntry(n int) error {
	count := 0
	for _, r := range c.findResults {
		if r.Err != nil {
			count++
		}
	}
	if count != n {
		return fmt.Errorf("expected %d diagnostic entries, got %d", n, count)
	}
	return nil
}

func TestDigitalTwinCoreBDD(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			c := &coreTestContext{}

			sc.Step(`^an empty registry$`, c.anEmptyRegistry)
			sc.Step(`^the ask timeout is (\d+) milliseconds$`, c.theAskTimeoutIsMilliseconds)
			sc.Step(`^a provider at "([^"]*)" that answers Get with payload (.+)$`, c.aProviderAtThatAnswersGetWithPayload)
			sc.Step(`^a provider at "([^"]*)" that never answers$`, c.aProviderAtThatNeverAnswers)
			sc.Step(`^managed-subscribe is enabled with bridge uri "([^"]*)"$`, c.managedSubscribeIsEnabledWithBridgeUri)
			sc.Step(`^I register a record with provider "([^"]*)", instance "([^"]*)", model "([^"]*)", protocol "([^"]*)", uri "([^"]*)" and operations "([^"]*)"$`, c.iRegisterARecordWithProviderInstanceModelProtocolUriAndOperations)
			sc.Step(`^FindByModelId "([^"]*)" returns exactly (\d+) record$`, c.findByModelIdReturnsExactlyRecord)
			sc.Step(`^FindByInstanceId "([^"]*)" returns exactly (\d+) record$`, c.findByInstanceIdReturnsExactlyRecord)
			sc.Step(`^the returned record has uri "([^"]*)"$`, c.theReturnedRecordHasUri)
			sc.Step(`^the returned record has context "([^"]*)"$`, c.theReturnedRecordHasContext)
			sc.Step(`^the managed-subscribe store maps instance "([^"]*)" back to callback uri "([^"]*)"$`, c.theManagedSubscribeStoreMapsInstanceBackToCallbackUri)
			sc.Step(`^I call Graph\.Get for instance "([^"]*)" and member "([^"]*)"$`, c.iCallGraphGetForInstanceAndMember)
			sc.Step(`^the Get call succeeds with payload (.+)$`, c.theGetCallSucceedsWithPayload)
			sc.Step(`^the Get call fails as unavailable within the ask timeout plus (\d+) milliseconds$`, c.theGetCallFailsAsUnavailableWithinTheAskTimeoutPlusMilliseconds)
			sc.Step(`^I call Graph\.Find for model "([^"]*)"$`, c.iCallGraphFindForModel)
			sc.Step(`^Find returns (\d+) successful payload equal to (.+)$`, c.findReturnsSuccessfulPayloadEqualTo)
			sc.Step(`^Find returns (\d+) diagnostic entry$`, c.findReturnsDiagnosticEntry)
		},
		Options: &godog.Options{
			Format: "pretty",
			Paths:  []string{"digital_twin_core.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run BDD tests")
	}
}
