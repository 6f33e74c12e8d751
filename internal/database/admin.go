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

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"duel-settlement-go/internal/models"

	"github.com/google/uuid"
)

func (s *Service) ListAccountReviews(ctx context.Context, includeResolved bool) ([]models.AccountReview, error) {
	query := queryListOpenReviews
	if includeResolved {
		query = queryListAllReviews
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list account reviews: %w", err)
	}
	defer closeRows(rows)

	var reviews []models.AccountReview
	for rows.Next() {
		var review models.AccountReview
		var resolvedBy, note sql.NullString
		if err := rows.Scan(&review.Id, &review.AccountId, &review.TxHash, &review.Reason, &review.Shortfall,
			&review.Resolved, &resolvedBy, &note, &review.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account review: %w", err)
		}
		review.ResolvedBy = resolvedBy.String
		review.Note = note.String
		reviews = append(reviews, review)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating review rows: %w", err)
	}
	return reviews, nil
}

func (s *Service) ResolveAccountReview(ctx context.Context, reviewId, adminId, note string) error {
	result, err := s.db.ExecContext(ctx, queryResolveReview, adminId, nullString(note), s.now(), reviewId)
	if err := expectOneRow(result, err); err != nil {
		return fmt.Errorf("review %s: %w", reviewId, err)
	}
	return nil
}

func (s *Service) RecordAdminAction(ctx context.Context, action models.AdminAction) error {
	return insertAdminAction(ctx, s.db, action, s.now())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAdminAction(ctx context.Context, db execer, action models.AdminAction, now time.Time) error {
	if action.Id == "" {
		action.Id = uuid.New().String()
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = now
	}
	_, err := db.ExecContext(ctx, queryInsertAdminAction,
		action.Id, action.AdminId, action.Action, action.TargetId, nullString(action.Detail), action.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record admin action: %w", err)
	}
	return nil
}

func (s *Service) ListAdminActions(ctx context.Context, limit int) ([]models.AdminAction, error) {
	rows, err := s.db.QueryContext(ctx, queryListAdminActions, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list admin actions: %w", err)
	}
	defer closeRows(rows)

	var actions []models.AdminAction
	for rows.Next() {
		var action models.AdminAction
		var detail sql.NullString
		if err := rows.Scan(&action.Id, &action.AdminId, &action.Action, &action.TargetId, &detail, &action.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan admin action: %w", err)
		}
		action.Detail = detail.String
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating admin action rows: %w", err)
	}
	return actions, nil
}
