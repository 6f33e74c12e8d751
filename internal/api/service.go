/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"duel-settlement-go/internal/admin"
	"duel-settlement-go/internal/duel"
	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/payout"
	"duel-settlement-go/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BotAuthenticator verifies regional bot credentials and records heartbeats.
type BotAuthenticator interface {
	Authenticate(region, secret string) bool
	Heartbeat(ctx context.Context, region, instanceId string) error
}

// AddressIssuer creates a fresh on-chain deposit address for a token.
type AddressIssuer interface {
	IssueAddress(ctx context.Context, tokenType string) (*models.DepositAddress, error)
}

type ServiceConfig struct {
	Store     store.Store
	Duels     *duel.Service
	Payouts   *payout.Service
	Admin     *admin.Service
	Bots      BotAuthenticator
	Issuer    AddressIssuer
	Addresses admin.AddressWatcher
	Gatherer  prometheus.Gatherer
	JWTSecret string
	AdminRole string
}

// Service is the HTTP surface over the settlement services. Handlers only
// authenticate, parse and map results; all state changes happen below.
type Service struct {
	store     store.Store
	duels     *duel.Service
	payouts   *payout.Service
	admin     *admin.Service
	bots      BotAuthenticator
	issuer    AddressIssuer
	addresses admin.AddressWatcher
	gatherer  prometheus.Gatherer
	secret    []byte
	adminRole string
	validate  *validator.Validate
}

func NewService(cfg ServiceConfig) *Service {
	adminRole := cfg.AdminRole
	if adminRole == "" {
		adminRole = "admin"
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Service{
		store:     cfg.Store,
		duels:     cfg.Duels,
		payouts:   cfg.Payouts,
		admin:     cfg.Admin,
		bots:      cfg.Bots,
		issuer:    cfg.Issuer,
		addresses: cfg.Addresses,
		gatherer:  gatherer,
		secret:    []byte(cfg.JWTSecret),
		adminRole: adminRole,
		validate:  validator.New(),
	}
}

func (s *Service) HealthCheck(ctx context.Context) error {
	if _, err := s.store.TotalBalance(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Router builds the chi handler tree.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/bot", func(r chi.Router) {
			r.Use(s.botAuth)
			r.Post("/results", s.handleBotResult)
			r.Post("/heartbeat", s.handleBotHeartbeat)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/me/balance", s.handleBalance)
			r.Get("/me/history", s.handleHistory)
			r.Get("/me/addresses", s.handleListAddresses)
			r.Post("/me/addresses", s.handleIssueAddress)

			r.Get("/duels", s.handleListDuels)
			r.Post("/duels", s.handleCreateDuel)
			r.Get("/duels/open", s.handleOpenChallenges)
			r.Route("/duels/{duelId}", func(r chi.Router) {
				r.Get("/", s.handleGetDuel)
				r.Post("/accept", s.handleAcceptDuel)
				r.Post("/decline", s.handleDeclineDuel)
				r.Post("/cancel", s.handleCancelDuel)
				r.Post("/claim", s.handleClaimResult)
				r.Post("/confirm", s.handleConfirmResult)
				r.Post("/dispute", s.handleDispute)
				r.Post("/seen", s.handleConfirmSeen)
			})

			r.Get("/payouts", s.handleListPayouts)
			r.Post("/payouts", s.handleRequestPayout)
			r.Post("/payouts/{requestId}/cancel", s.handleCancelPayout)

			r.Route("/admin", func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/duels/{duelId}/resolve", s.handleResolveDuel)
				r.Get("/payouts", s.handleAdminListPayouts)
				r.Post("/payouts/{requestId}/approve", s.handleApprovePayout)
				r.Post("/payouts/{requestId}/decline", s.handleDeclinePayout)
				r.Post("/payouts/{requestId}/fail", s.handleFailPayout)
				r.Post("/payouts/{requestId}/complete", s.handleCompletePayout)
				r.Post("/addresses", s.handleAddAddress)
				r.Delete("/addresses/{address}", s.handleRemoveAddress)
				r.Post("/addresses/{address}/assign", s.handleAssignAddress)
				r.Get("/reviews", s.handleListReviews)
				r.Post("/reviews/{reviewId}/resolve", s.handleResolveReview)
				r.Post("/accounts/{accountId}/adjust", s.handleAdjustBalance)
				r.Get("/actions", s.handleListActions)
				r.Post("/reconcile", s.handleReconcile)
			})
		})
	})

	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, models.ErrorResponse{Error: "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, models.OperationResult{Success: true})
}
