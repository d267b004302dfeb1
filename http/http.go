package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/awantoch/flowhook/constants"
	"github.com/awantoch/flowhook/dispatch"
	"github.com/awantoch/flowhook/event"
	"github.com/awantoch/flowhook/telemetry"
	"github.com/awantoch/flowhook/utils"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// MaxWebhookBody caps the size of an inbound webhook payload.
const MaxWebhookBody = 5 << 20

// FlowStates reports whether a flow accepts webhooks.
type FlowStates interface {
	State(flowID uuid.UUID) dispatch.State
}

// Server receives provider webhooks and exposes health and metrics.
type Server struct {
	http.Server
	flows FlowStates
	bus   event.EventBus
}

func NewServer(addr string, flows FlowStates, bus event.EventBus) *Server {
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		flows: flows,
		bus:   bus,
	}
	s.Handler = s.Router()
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Handle(constants.RouteFlowWebhook, telemetry.WrapHandler("webhook", http.HandlerFunc(s.HandleWebhook)))
	router.HandleFunc(constants.RouteHealth, s.HandleHealth).Methods(http.MethodGet)
	router.Handle(constants.RouteMetrics, telemetry.MetricsHandler()).Methods(http.MethodGet)
	router.Use(requestIDMiddleware)
	return router
}

func (s *Server) Start() error {
	utils.Info("starting http server on %s", s.Addr)
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	utils.Info("stopping http server")
	return s.Shutdown(ctx)
}

// HandleWebhook acknowledges the delivery with 202 and hands it to the
// dispatcher through the event bus.
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	flowID, err := uuid.Parse(mux.Vars(r)["flowID"])
	if err != nil {
		utils.WriteHTTPError(w, "invalid flow id", http.StatusBadRequest)
		return
	}
	if s.flows.State(flowID) != dispatch.StateWebhookRegistered {
		utils.WriteHTTPError(w, "flow is not accepting webhooks", http.StatusNotFound)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxWebhookBody+1))
	if err != nil {
		utils.WriteHTTPError(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > MaxWebhookBody {
		utils.WriteHTTPError(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	delivery := dispatch.Delivery{
		FlowID:  flowID,
		Method:  r.Method,
		Headers: r.Header.Clone(),
		Query:   r.URL.Query(),
		Body:    body,
	}
	if err := s.bus.Publish(r.Context(), constants.TopicWebhookDelivered, delivery); err != nil {
		utils.ErrorCtx(r.Context(), "failed to publish webhook delivery", "flow", flowID, "error", err)
		utils.WriteHTTPError(w, "failed to accept webhook", http.StatusInternalServerError)
		return
	}
	_ = utils.WriteHTTPJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteHTTPJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(constants.HeaderRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(constants.HeaderRequestID, reqID)
		ctx := utils.WithRequestID(r.Context(), reqID)
		utils.DebugCtx(ctx, "http request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
