// Package dtcore composes the in-vehicle digital twin runtime's five
// components — registry, interception pipeline, async RPC correlator,
// graph facade, and managed-subscribe bridge — into a single process,
// the way the reference application wires its services once at startup
// and passes them explicitly, with no package-level singletons.
package dtcore

import (
	"context"
	"log/slog"

	"github.com/sdv-edge/dtcore/asyncrpc"
	"github.com/sdv-edge/dtcore/config"
	"github.com/sdv-edge/dtcore/dtlog"
	"github.com/sdv-edge/dtcore/graph"
	"github.com/sdv-edge/dtcore/httpapi"
	"github.com/sdv-edge/dtcore/internal/housekeeping"
	"github.com/sdv-edge/dtcore/intercept"
	"github.com/sdv-edge/dtcore/managedsubscribe"
	"github.com/sdv-edge/dtcore/registry"
)

// Logger is the runtime-wide logging interface; see dtlog.Logger.
type Logger = dtlog.Logger

// SlogLogger adapts a *slog.Logger to Logger, the way the reference
// application's own documentation recommends wiring in a standard
// library logger.
type SlogLogger struct {
	*slog.Logger
}

// Runtime holds every top-level component, constructed once by New and
// never replaced.
type Runtime struct {
	Settings config.Settings
	Logger   Logger

	Registry         *registry.Registry
	Correlator       *asyncrpc.Correlator
	Dispatcher       asyncrpc.Dispatcher
	RegisterPipeline *intercept.Pipeline
	Graph            *graph.Facade
	ManagedSubscribe *managedsubscribe.Bridge
	Store            *managedsubscribe.Store
	HTTP             *httpapi.Server

	scheduler *housekeeping.Scheduler
	watcher   *config.Watcher
}

// Options lets a caller override the pieces New would otherwise build
// itself — principally the managed-subscribe broker and provider-callback
// clients, which have no sensible default since they talk to an external
// broker the runtime does not implement.
type Options struct {
	Broker           managedsubscribe.BrokerClient
	ProviderCallback managedsubscribe.ProviderCallback
	Logger           Logger
}

// New constructs a Runtime from Settings. The registry and async RPC
// correlator are always built; the graph facade is built only when
// Settings.GraphEnabled, and the managed-subscribe bridge only when
// Settings.ManagedSubscribeEnabled.
func New(settings config.Settings, opts Options) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = dtlog.Nop{}
	}

	rt := &Runtime{Settings: settings, Logger: logger}

	// RegistryEnabled governs whether the HTTP binding exposes the
	// registry's RPC surface, not whether the index itself exists: the
	// graph facade and managed-subscribe bridge both depend on it
	// internally regardless of that flag.
	rt.Registry = registry.New()

	rt.Correlator = asyncrpc.NewCorrelator()
	rt.Dispatcher = asyncrpc.NewHTTPDispatcher(settings.AskTimeout())

	rt.Store = managedsubscribe.NewStore()

	var registerInterceptors []intercept.Interceptor
	if settings.ManagedSubscribeEnabled {
		msInterceptor := managedsubscribe.NewInterceptor(settings.ManagedSubscribeBrokerURI, rt.Store)
		msInterceptor.Logger = logger
		registerInterceptors = append(registerInterceptors, msInterceptor)

		if opts.Broker != nil && opts.ProviderCallback != nil {
			rt.ManagedSubscribe = managedsubscribe.NewBridge(rt.Store, opts.Broker, opts.ProviderCallback)
			rt.ManagedSubscribe.Logger = logger
		}
	}

	rt.RegisterPipeline = intercept.New(httpapi.NewRegisterHandler(rt.Registry), registerInterceptors...)

	if settings.GraphEnabled {
		rt.Graph = graph.New(rt.Registry, rt.Correlator, rt.Dispatcher, "dtcore://runtime", settings.ListenAuthority)
		rt.Graph.AskTimeout = settings.AskTimeout()
		rt.Graph.Logger = logger
	}

	rt.HTTP = httpapi.NewServer(rt.Registry, rt.RegisterPipeline, rt.Correlator, rt.Graph, rt.ManagedSubscribe, settings.RegistryEnabled, logger)

	if rt.ManagedSubscribe != nil {
		rt.scheduler = housekeeping.NewScheduler(rt.ManagedSubscribe, logger)
	}

	return rt
}

// StartHousekeeping starts the stale managed-subscribe topic sweep, if a
// managed-subscribe bridge was built. It is a no-op otherwise.
func (rt *Runtime) StartHousekeeping(cronSpec string) error {
	if rt.scheduler == nil {
		return nil
	}
	return rt.scheduler.Start(cronSpec)
}

// WatchConfig starts hot-reloading Settings from disk when the loaded
// configuration opted in. On every successful reload the runtime copies
// AskTimeoutMS and ManagedSubscribeBrokerURI into rt.Settings and applies
// the new ask timeout to the graph facade. The managed-subscribe
// interceptor keeps the uri it was built with, and no other field is
// reloaded.
func (rt *Runtime) WatchConfig() error {
	if !rt.Settings.WatchConfig {
		return nil
	}
	watcher, err := config.NewWatcher(rt.Logger, func(updated config.Settings) {
		rt.Settings.AskTimeoutMS = updated.AskTimeoutMS
		rt.Settings.ManagedSubscribeBrokerURI = updated.ManagedSubscribeBrokerURI
		if rt.Graph != nil {
			rt.Graph.AskTimeout = updated.AskTimeout()
		}
	})
	if err != nil {
		return err
	}
	rt.watcher = watcher
	return rt.watcher.Start()
}

// Shutdown stops the housekeeping scheduler and config watcher, if
// either was started.
func (rt *Runtime) Shutdown(ctx context.Context) {
	if rt.scheduler != nil {
		rt.scheduler.Stop()
	}
	if rt.watcher != nil {
		rt.watcher.Stop()
	}
}
