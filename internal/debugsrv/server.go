// Licensed to LinDB under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. LinDB licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Package debugsrv exposes a small HTTP introspection surface over the
// runtime's live components: reactor hook count and workqueue depth,
// plus a health check.
package debugsrv

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/hoyleeson/corert/pkg/logger"
)

// ReactorStats is anything that can report its live hook count.
type ReactorStats interface {
	Stats() int
}

// WorkqueueStats is anything that can report active/pending work counts.
type WorkqueueStats interface {
	Stats() (active, pending int)
}

// Server is the debug HTTP surface.
type Server struct {
	log    *logger.Logger
	http   *http.Server
	router *mux.Router

	reactor ReactorStats
	wqs     map[string]WorkqueueStats
}

// New builds a debug server bound to addr. Register* calls must happen
// before Start.
func New(addr string) *Server {
	s := &Server{
		log:    logger.GetLogger("debugsrv", "Server"),
		router: mux.NewRouter(),
		wqs:    make(map[string]WorkqueueStats),
	}
	s.http = &http.Server{Addr: addr, Handler: s.router}
	s.router.HandleFunc("/debug/reactor", s.handleReactor).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/workqueues", s.handleWorkqueues).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/healthz", s.handleHealthz).Methods(http.MethodGet)
	return s
}

// RegisterReactor wires r as the source for /debug/reactor.
func (s *Server) RegisterReactor(r ReactorStats) {
	s.reactor = r
}

// RegisterWorkqueue wires wq as one of the sources for /debug/workqueues,
// identified by name.
func (s *Server) RegisterWorkqueue(name string, wq WorkqueueStats) {
	s.wqs[name] = wq
}

func (s *Server) handleReactor(w http.ResponseWriter, r *http.Request) {
	if s.reactor == nil {
		http.Error(w, "reactor not registered", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]int{"hooks": s.reactor.Stats()})
}

func (s *Server) handleWorkqueues(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]map[string]int, len(s.wqs))
	for name, wq := range s.wqs {
		active, pending := wq.Stats()
		out[name] = map[string]int{"active": active, "pending": pending}
	}
	writeJSON(w, out)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("debug server stopped", logger.Error(err))
		}
	}()
}

// Stop gracefully shuts the server down within timeout.
func (s *Server) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
