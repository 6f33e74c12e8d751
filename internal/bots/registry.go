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

package bots

import (
	"context"
	"crypto/subtle"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"duel-settlement-go/internal/metrics"
	"duel-settlement-go/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const heartbeatKeyPrefix = "bot:heartbeat:"

// Registry knows the configured bot regions, their shared secrets and which
// of them have sent a heartbeat within the TTL. Liveness lives in Redis so
// every API instance sees the same answer; without Redis it is kept in process.
type Registry struct {
	client  *redis.Client
	ttl     time.Duration
	secrets map[string][]byte
	metrics *metrics.Metrics

	mutex sync.Mutex
	local map[string]time.Time

	now func() time.Time
}

// NewRegistry reads each region's secret from the environment variable named
// in its config. A region without a secret is a configuration error.
func NewRegistry(regions []models.RegionConfig, client *redis.Client, ttl time.Duration, m *metrics.Metrics) (*Registry, error) {
	secrets := make(map[string][]byte, len(regions))
	for _, region := range regions {
		secret := os.Getenv(region.SecretEnv)
		if secret == "" {
			return nil, fmt.Errorf("region %s: environment variable %s is empty", region.Name, region.SecretEnv)
		}
		secrets[region.Name] = []byte(secret)
	}

	if client == nil {
		zap.L().Warn("Bot heartbeats kept in process, Redis not configured")
	}

	return &Registry{
		client:  client,
		ttl:     ttl,
		secrets: secrets,
		metrics: m,
		local:   make(map[string]time.Time),
		now:     time.Now,
	}, nil
}

func (r *Registry) KnownRegion(region string) bool {
	_, ok := r.secrets[region]
	return ok
}

func (r *Registry) Regions() []string {
	regions := make([]string, 0, len(r.secrets))
	for name := range r.secrets {
		regions = append(regions, name)
	}
	sort.Strings(regions)
	return regions
}

// Authenticate checks a bot's shared secret in constant time.
func (r *Registry) Authenticate(region, secret string) bool {
	expected, ok := r.secrets[region]
	if !ok || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare(expected, []byte(secret)) == 1
}

// Heartbeat marks region live for the TTL.
func (r *Registry) Heartbeat(ctx context.Context, region, instanceId string) error {
	if !r.KnownRegion(region) {
		return fmt.Errorf("heartbeat from unknown region %q", region)
	}

	r.mutex.Lock()
	r.local[region] = r.now().Add(r.ttl)
	r.mutex.Unlock()

	r.metrics.BotHeartbeats.WithLabelValues(region).Inc()

	if r.client == nil {
		return nil
	}
	if err := r.client.Set(ctx, heartbeatKeyPrefix+region, instanceId, r.ttl).Err(); err != nil {
		zap.L().Warn("Failed to store bot heartbeat in Redis",
			zap.String("region", region),
			zap.String("instance_id", instanceId),
			zap.Error(err))
		return err
	}
	return nil
}

// IsAlive reports whether region has a heartbeat inside the TTL. A Redis
// failure falls back to what this instance has seen.
func (r *Registry) IsAlive(ctx context.Context, region string) bool {
	if r.client != nil {
		n, err := r.client.Exists(ctx, heartbeatKeyPrefix+region).Result()
		if err == nil {
			return n > 0
		}
		zap.L().Warn("Failed to read bot heartbeat from Redis", zap.String("region", region), zap.Error(err))
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	expiry, ok := r.local[region]
	return ok && r.now().Before(expiry)
}
