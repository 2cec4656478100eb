// Package httpapi is the one concrete transport binding for the
// interception layer and the graph/managed-subscribe services: a small
// chi-routed HTTP surface that turns incoming requests into
// intercept.Call values, runs them through the interception pipeline,
// and dispatches whatever the pipeline hands back to the registry,
// graph facade, or managed-subscribe bridge.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sdv-edge/dtcore/asyncrpc"
	"github.com/sdv-edge/dtcore/dtlog"
	"github.com/sdv-edge/dtcore/graph"
	"github.com/sdv-edge/dtcore/intercept"
	"github.com/sdv-edge/dtcore/managedsubscribe"
	"github.com/sdv-edge/dtcore/registry"
)

// Server wires the registry, graph facade, and managed-subscribe bridge
// behind an HTTP API, with every Register call routed through an
// interception Pipeline first. It is also the async RPC respond surface:
// the uri the graph facade stamps into every ask's "respondasyncrpcuri"
// extension resolves to this Server, so a provider's Answer always has
// somewhere to land.
type Server struct {
	Registry         *registry.Registry
	RegisterPipeline *intercept.Pipeline
	Correlator       *asyncrpc.Correlator
	Graph            *graph.Facade
	Bridge           *managedsubscribe.Bridge
	RegistryEnabled  bool
	Logger           dtlog.Logger

	router chi.Router
}

// NewServer builds a Server and registers its routes. registryEnabled
// gates the registry's find endpoints the same way a nil graphFacade or
// bridge gates theirs — disabled components answer 501 instead of being
// unreachable.
func NewServer(reg *registry.Registry, registerPipeline *intercept.Pipeline, correlator *asyncrpc.Correlator, graphFacade *graph.Facade, bridge *managedsubscribe.Bridge, registryEnabled bool, logger dtlog.Logger) *Server {
	if logger == nil {
		logger = dtlog.Nop{}
	}
	s := &Server{
		Registry:         reg,
		RegisterPipeline: registerPipeline,
		Correlator:       correlator,
		Graph:            graphFacade,
		Bridge:           bridge,
		RegistryEnabled:  registryEnabled,
		Logger:           logger,
		router:           chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP lets Server itself satisfy http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Post("/invehicle_digital_twin.InvehicleDigitalTwin/Register", s.handleRegister)
	s.router.Get("/find/model/{modelID}", s.handleFindByModelID)
	s.router.Get("/find/instance/{instanceID}", s.handleFindByInstanceID)
	s.router.Get("/find/model/{modelID}/instance/{instanceID}", s.handleFindByModelAndInstance)
	s.router.Post("/async-rpc/answer/{askID}", s.handleAsyncRPCAnswer)
	s.router.Get("/graph/get/{instanceID}", s.handleGraphGet)
	s.router.Post("/graph/set/{instanceID}", s.handleGraphSet)
	s.router.Post("/graph/invoke/{instanceID}/{command}", s.handleGraphInvoke)
	s.router.Post("/managed-subscribe/{instanceID}/subscription-info", s.handleSubscriptionInfo)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	body, err := readAll(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp := s.RegisterPipeline.Run(r.Context(), intercept.Call{
		ServiceName: "InvehicleDigitalTwin",
		MethodName:  "Register",
		Payload:     body,
	})
	if resp.Err != nil {
		writeError(w, http.StatusBadRequest, resp.Err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// NewRegisterHandler builds the terminal intercept.Handler for the
// Register RPC: decode the JSON record list and apply it to reg. Callers
// wire this as the Handler passed to intercept.New when building the
// Server's RegisterPipeline.
func NewRegisterHandler(reg *registry.Registry) intercept.Handler {
	return func(ctx context.Context, call intercept.Call) intercept.Response {
		var recs []registry.Record
		if err := json.Unmarshal(call.Payload, &recs); err != nil {
			return intercept.Response{Err: err}
		}
		if err := reg.Register(recs); err != nil {
			return intercept.Response{Err: err}
		}
		return intercept.Response{}
	}
}

func (s *Server) handleFindByModelID(w http.ResponseWriter, r *http.Request) {
	if !s.RegistryEnabled {
		http.Error(w, "registry find surface is not enabled", http.StatusNotImplemented)
		return
	}
	modelID := chi.URLParam(r, "modelID")
	writeJSON(w, http.StatusOK, s.Registry.FindByModelID(modelID))
}

func (s *Server) handleFindByInstanceID(w http.ResponseWriter, r *http.Request) {
	if !s.RegistryEnabled {
		http.Error(w, "registry find surface is not enabled", http.StatusNotImplemented)
		return
	}
	instanceID := chi.URLParam(r, "instanceID")
	writeJSON(w, http.StatusOK, s.Registry.FindByInstanceID(instanceID))
}

func (s *Server) handleFindByModelAndInstance(w http.ResponseWriter, r *http.Request) {
	if !s.RegistryEnabled {
		http.Error(w, "registry find surface is not enabled", http.StatusNotImplemented)
		return
	}
	modelID := chi.URLParam(r, "modelID")
	instanceID := chi.URLParam(r, "instanceID")
	writeJSON(w, http.StatusOK, s.Registry.FindByModelAndInstance(modelID, instanceID))
}

// handleAsyncRPCAnswer is the async RPC respond surface: a provider posts
// its Answer here, at the uri the graph facade stamped into the ask's
// "respondasyncrpcuri" extension, and it is routed back to whichever
// Graph.Get/Set/Invoke call is waiting on askID.
func (s *Server) handleAsyncRPCAnswer(w http.ResponseWriter, r *http.Request) {
	askID := chi.URLParam(r, "askID")

	body, err := readAll(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var wire asyncrpc.AnswerPayload
	if err := json.Unmarshal(body, &wire); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	answer := asyncrpc.Answer{Payload: wire.Payload}
	if wire.Error != "" {
		answer.Err = errors.New(wire.Error)
	}

	if err := s.Correlator.Deliver(askID, answer); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGraphGet(w http.ResponseWriter, r *http.Request) {
	if s.Graph == nil {
		http.Error(w, "graph is not enabled", http.StatusNotImplemented)
		return
	}
	instanceID := chi.URLParam(r, "instanceID")
	member := r.URL.Query().Get("member")

	payload, err := s.Graph.Get(r.Context(), instanceID, member)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *Server) handleGraphSet(w http.ResponseWriter, r *http.Request) {
	if s.Graph == nil {
		http.Error(w, "graph is not enabled", http.StatusNotImplemented)
		return
	}
	instanceID := chi.URLParam(r, "instanceID")
	member := r.URL.Query().Get("member")

	body, err := readAll(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Graph.Set(r.Context(), instanceID, member, body); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGraphInvoke(w http.ResponseWriter, r *http.Request) {
	if s.Graph == nil {
		http.Error(w, "graph is not enabled", http.StatusNotImplemented)
		return
	}
	instanceID := chi.URLParam(r, "instanceID")
	command := chi.URLParam(r, "command")

	body, err := readAll(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	payload, err := s.Graph.Invoke(r.Context(), instanceID, command, body)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *Server) handleSubscriptionInfo(w http.ResponseWriter, r *http.Request) {
	if s.Bridge == nil {
		http.Error(w, "managed-subscribe is not enabled", http.StatusNotImplemented)
		return
	}

	instanceID := chi.URLParam(r, "instanceID")
	constraints := r.URL.Query().Get("constraints")

	info, err := s.Bridge.GetSubscriptionInfo(r.Context(), instanceID, constraints)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
