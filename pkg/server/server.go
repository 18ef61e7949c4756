package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/heathcliff26/buildhook/pkg/config"
	"github.com/heathcliff26/buildhook/pkg/trigger"
	"github.com/heathcliff26/simple-fileserver/pkg/middleware"
)

const shutdownTimeout = 10 * time.Second

// Header carrying the event type, per provider
var eventHeaders = map[trigger.Provider]string{
	trigger.ProviderGithub:    "X-GitHub-Event",
	trigger.ProviderGithubApp: "X-GitHub-Event",
	trigger.ProviderGitee:     "X-Gitee-Event",
	trigger.ProviderCoding:    "X-Coding-Event",
}

type Server struct {
	addr                       string
	ssl                        config.SSLConfig
	maxBodyBytes               int64
	normalizationFailureStatus int
	gateway                    *Gateway
	metrics                    http.Handler
}

type response struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Create a new webhook server, metrics may be nil
func NewServer(cfgServer config.ServerConfig, gateway *Gateway, metrics http.Handler) *Server {
	maxBody := cfgServer.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = config.DEFAULT_MAX_BODY_BYTES
	}
	failureStatus := cfgServer.NormalizationFailureStatus
	if failureStatus == 0 {
		failureStatus = config.DEFAULT_NORMALIZATION_FAILURE_STATUS
	}
	return &Server{
		addr:                       ":" + strconv.Itoa(cfgServer.Port),
		ssl:                        cfgServer.SSL,
		maxBodyBytes:               maxBody,
		normalizationFailureStatus: failureStatus,
		gateway:                    gateway,
		metrics:                    metrics,
	}
}

// Handle incoming webhook deliveries
// URL: POST /webhooks/{provider}
func (s *Server) webhookHandler(res http.ResponseWriter, req *http.Request) {
	s.handleDelivery(res, req, req.PathValue("provider"))
}

// Compatibility route for plain github deliveries
// URL: POST /webhook
func (s *Server) legacyWebhookHandler(res http.ResponseWriter, req *http.Request) {
	s.handleDelivery(res, req, string(trigger.ProviderGithub))
}

func (s *Server) handleDelivery(res http.ResponseWriter, req *http.Request, provider string) {
	body, err := io.ReadAll(http.MaxBytesReader(res, req.Body, s.maxBodyBytes))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			slog.Warn("Rejected oversized webhook body", slog.String("provider", provider), slog.Int64("limit", maxBytesErr.Limit))
			writeResponse(res, http.StatusRequestEntityTooLarge, response{Status: "too_large"})
			return
		}
		slog.Error("Failed to read request body", slog.String("err", err.Error()))
		writeResponse(res, http.StatusBadRequest, response{Status: "bad_request"})
		return
	}

	signatureHeader := req.Header.Get("X-Hub-Signature-256")
	if signatureHeader == "" {
		signatureHeader = req.Header.Get("X-Hub-Signature")
	}

	out := s.gateway.Ingest(req.Context(), Delivery{
		Provider:   provider,
		EventType:  req.Header.Get(eventHeaders[trigger.Provider(provider)]),
		DeliveryID: req.Header.Get("X-GitHub-Delivery"),
		Signature:  signatureHeader,
		Body:       body,
		ReceivedAt: time.Now(),
	})

	resBody := response{Status: string(out.State), Reason: out.Reason}
	if out.Err != nil {
		resBody.Error = out.Err.Error()
	}
	if out.State == StateEnqueued {
		resBody.ID = out.Item.ID
	}
	writeResponse(res, s.statusCode(out.State), resBody)
}

// Map the terminal state of a delivery to the http status returned to the provider
func (s *Server) statusCode(state State) int {
	switch state {
	case StateEnqueued:
		return http.StatusAccepted
	case StateNoOp:
		return http.StatusOK
	case StateRejected:
		return http.StatusPaymentRequired
	case StateNormalizationFailed:
		return s.normalizationFailureStatus
	case StateQueueUnavailable:
		return http.StatusServiceUnavailable
	case StateUnknownProvider:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeResponse(rw http.ResponseWriter, status int, body response) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	err := json.NewEncoder(rw).Encode(body)
	if err != nil {
		slog.Error("Failed to write response", slog.String("err", err.Error()))
	}
}

// Return a health status of the server
// URL: /healthz
func (s *Server) handleHealthCheck(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	_, err := rw.Write([]byte(`{"status":"ok"}`))
	if err != nil {
		slog.Error("Failed to write health check response", slog.String("err", err.Error()))
	}
}

func (s *Server) Handler() http.Handler {
	router := http.NewServeMux()
	router.HandleFunc("POST /webhooks/{provider}", s.webhookHandler)
	router.HandleFunc("POST /webhook", s.legacyWebhookHandler)
	router.HandleFunc("/healthz", s.handleHealthCheck)
	if s.metrics != nil {
		router.Handle("GET /metrics", s.metrics)
	}
	return middleware.Logging(router)
}

// Starts the server and blocks until ctx is cancelled or the server fails
func (s *Server) Run(ctx context.Context) error {
	server := http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if s.ssl.Enabled {
			slog.Info("Starting server", slog.String("addr", s.addr), slog.String("sslKey", s.ssl.Key), slog.String("sslCert", s.ssl.Cert))
			errCh <- server.ListenAndServeTLS(s.ssl.Cert, s.ssl.Key)
		} else {
			slog.Info("Starting server", slog.String("addr", s.addr))
			errCh <- server.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := server.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	// This just means the server was closed after running
	err = <-errCh
	if errors.Is(err, http.ErrServerClosed) {
		slog.Info("Server closed, exiting")
		return nil
	}
	return err
}
