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
	"strings"
	"time"

	"duel-settlement-go/internal/models"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	BotRegionHeader = "X-Bot-Region"
	BotSecretHeader = "X-Bot-Secret"
)

type botRegionKey struct{}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// authenticate validates an HS256 bearer token and attaches the caller.
func (s *Service) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "authorization header required", nil)
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, "invalid authorization header format", nil)
			return
		}

		principal, err := s.parseToken(parts[1])
		if err != nil {
			zap.L().Debug("Rejected bearer token", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "invalid token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(models.WithPrincipal(r.Context(), principal)))
	})
}

func (s *Service) parseToken(tokenString string) (*models.Principal, error) {
	if len(s.secret) == 0 {
		return nil, fmt.Errorf("no signing secret configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", token.Claims)
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	role, _ := claims["role"].(string)
	return &models.Principal{AccountId: subject, Role: role}, nil
}

func (s *Service) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := models.GetPrincipal(r.Context())
		if principal == nil || principal.Role != s.adminRole {
			writeError(w, http.StatusForbidden, "admin role required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// botAuth checks the shared secret of the calling region's bot.
func (s *Service) botAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		region := r.Header.Get(BotRegionHeader)
		secret := r.Header.Get(BotSecretHeader)
		if region == "" || secret == "" || !s.bots.Authenticate(region, secret) {
			zap.L().Warn("Rejected bot request",
				zap.String("region", region),
				zap.String("remote_addr", r.RemoteAddr))
			writeError(w, http.StatusUnauthorized, "invalid bot credentials", nil)
			return
		}
		ctx := context.WithValue(r.Context(), botRegionKey{}, region)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func botRegion(ctx context.Context) string {
	region, _ := ctx.Value(botRegionKey{}).(string)
	return region
}

func principalOf(r *http.Request) *models.Principal {
	if p := models.GetPrincipal(r.Context()); p != nil {
		return p
	}
	return &models.Principal{}
}
