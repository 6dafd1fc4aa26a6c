// Package service exposes a node's diagnostics over HTTP: a JSON stats
// map and the Prometheus metrics endpoint.
package service

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/davidjrichardson/erts-2020/src/telemetry"
	"github.com/davidjrichardson/erts-2020/src/version"
	"github.com/sirupsen/logrus"
)

// StatsProvider is the part of a protocol node the service reads from.
// Both the trickle node and the random forwarding node implement it.
type StatsProvider interface {
	Stats() map[string]string
}

// Service serves a node's diagnostics.
type Service struct {
	sync.Mutex

	bindAddress string
	node        StatsProvider
	mux         *http.ServeMux
	logger      *logrus.Entry
}

// NewService instantiates the service and registers its handlers. The
// service has its own mux, so several nodes in one process can each carry
// one.
func NewService(bindAddress string, n StatsProvider, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering API handlers")
	s.mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	s.mux.HandleFunc("/version", s.makeHandler(s.GetVersion))
	s.mux.Handle("/metrics", telemetry.MetricsHandler())
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving diagnostics API")

	err := http.ListenAndServe(s.bindAddress, s.mux)
	if err != nil {
		s.logger.Error(err)
	}
}

// Handler returns the service's mux, for embedding in another server or
// for tests.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// GetStats returns the node's stats map.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.node.Stats()

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// GetVersion returns the running build's version string.
func (s *Service) GetVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(map[string]string{"version": version.Version})
}
