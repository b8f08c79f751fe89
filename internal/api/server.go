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
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a router with all ledger and webhook routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/wallets", func(r chi.Router) {
			r.Post("/", h.CreateWallet)
			r.Get("/{id}", h.GetWallet)
			r.Get("/{id}/transactions", h.GetTransactionHistory)
			r.Post("/{id}/deactivate", h.DeactivateWallet)
			r.Post("/{id}/reconcile", h.ReconcileWallet)
		})

		r.Post("/deposits", h.Deposit)

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.ProcessPayment)
			r.Post("/{id}/refund", h.RefundPayment)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/{id}", h.GetTransaction)
			r.Post("/{id}/cancel", h.CancelTransaction)
			r.Post("/{id}/dispute", h.DisputeTransaction)
		})

		r.Route("/withdrawals", func(r chi.Router) {
			r.Post("/", h.CreateWithdrawal)
			r.Get("/{id}", h.GetWithdrawal)
			r.Post("/{id}/review", h.ReviewWithdrawal)
			r.Post("/{id}/process", h.ProcessWithdrawal)
		})

		r.Get("/users/{userId}/withdrawals", h.ListWithdrawals)

		r.Route("/webhooks/endpoints", func(r chi.Router) {
			r.Post("/", h.CreateEndpoint)
			r.Get("/", h.ListEndpoints)
			r.Delete("/{id}", h.DeactivateEndpoint)
		})
	})

	r.Get("/health", h.Health)

	return r
}
