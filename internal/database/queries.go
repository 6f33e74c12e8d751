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

const (
	// Account queries
	queryInsertAccount = `
		INSERT INTO accounts (id, name, email, balance, reserved, version, created_at, updated_at)
		VALUES (?, ?, ?, 0, 0, 1, ?, ?)`

	queryEnsureHouseAccount = `
		INSERT OR IGNORE INTO accounts (id, name, email, balance, reserved, version, created_at, updated_at)
		VALUES (?, 'Platform', NULL, 0, 0, 1, ?, ?)`

	queryGetAccount = `
		SELECT id, name, email, balance, reserved, version, created_at, updated_at
		FROM accounts
		WHERE id = ?`

	queryListAccounts = `
		SELECT id, name, email, balance, reserved, version, created_at, updated_at
		FROM accounts
		ORDER BY created_at`

	queryGetAccountBalance = `
		SELECT balance, reserved, version
		FROM accounts
		WHERE id = ?`

	queryUpdateAccountBalance = `
		UPDATE accounts
		SET balance = ?, reserved = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`

	queryTotalBalance = `
		SELECT COALESCE(SUM(balance), 0) FROM accounts`

	// History queries
	historyColumns = `id, account_id, entry_type, amount, reserved_delta, balance_after,
		       idempotency_key, description, related_id, created_at`

	queryGetHistoryByKey = `
		SELECT ` + historyColumns + `
		FROM history
		WHERE idempotency_key = ?`

	queryInsertHistory = `
		INSERT INTO history (
			id, account_id, entry_type, amount, reserved_delta, balance_after,
			idempotency_key, description, related_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetHistory = `
		SELECT ` + historyColumns + `
		FROM history
		WHERE account_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`

	queryReplayAccount = `
		SELECT COALESCE(SUM(amount), 0), COALESCE(SUM(reserved_delta), 0), COUNT(*)
		FROM history
		WHERE account_id = ?`

	queryListUnmirroredHistory = `
		SELECT ` + historyColumns + `
		FROM history
		WHERE mirrored_at IS NULL
		ORDER BY rowid
		LIMIT ?`

	queryMarkHistoryMirrored = `
		UPDATE history SET mirrored_at = ? WHERE id = ? AND mirrored_at IS NULL`

	// Address queries
	addressColumns = `address, owner_id, watched, created_at`

	queryInsertAddress = `
		INSERT INTO monitored_addresses (address, owner_id, watched, created_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(address) DO UPDATE SET
			watched = 1,
			owner_id = COALESCE(monitored_addresses.owner_id, excluded.owner_id)`

	queryGetAddress = `
		SELECT ` + addressColumns + `
		FROM monitored_addresses
		WHERE address = ?`

	querySetAddressWatched = `
		UPDATE monitored_addresses SET watched = ? WHERE address = ?`

	queryAssignAddressOwner = `
		UPDATE monitored_addresses SET owner_id = ? WHERE address = ? AND owner_id IS NULL`

	queryListWatchedAddresses = `
		SELECT ` + addressColumns + `
		FROM monitored_addresses
		WHERE watched = 1
		ORDER BY created_at`

	queryListAccountAddresses = `
		SELECT ` + addressColumns + `
		FROM monitored_addresses
		WHERE owner_id = ?
		ORDER BY created_at DESC`

	// Deposit queries
	depositColumns = `tx_hash, to_address, amount, status, confirmations_seen, account_id,
		       created_at, updated_at, credited_at`

	queryGetDeposit = `
		SELECT ` + depositColumns + `
		FROM deposit_transactions
		WHERE tx_hash = ?`

	queryInsertDeposit = `
		INSERT INTO deposit_transactions (tx_hash, to_address, amount, status, confirmations_seen, created_at, updated_at)
		VALUES (?, ?, ?, 'detected', ?, ?, ?)`

	queryRaiseDepositConfirmations = `
		UPDATE deposit_transactions
		SET confirmations_seen = ?, updated_at = ?
		WHERE tx_hash = ? AND confirmations_seen < ? AND status IN ('detected', 'confirming')`

	queryUpdateDepositProgress = `
		UPDATE deposit_transactions
		SET status = ?, confirmations_seen = ?, updated_at = ?
		WHERE tx_hash = ? AND status = ?`

	queryMarkDepositCredited = `
		UPDATE deposit_transactions
		SET status = 'credited', account_id = ?, credited_at = ?, updated_at = ?
		WHERE tx_hash = ? AND status = 'confirmed'`

	queryMarkDepositInvalidated = `
		UPDATE deposit_transactions
		SET status = 'invalidated', updated_at = ?
		WHERE tx_hash = ? AND status = ?`

	queryListUncreditedDeposits = `
		SELECT ` + depositColumns + `
		FROM deposit_transactions
		WHERE status IN ('detected', 'confirming', 'confirmed')
		ORDER BY created_at
		LIMIT ?`

	queryListRecentlyCredited = `
		SELECT ` + depositColumns + `
		FROM deposit_transactions
		WHERE status = 'credited' AND credited_at >= ?
		ORDER BY credited_at
		LIMIT ?`

	// Duel queries
	duelColumns = `id, creator_id, opponent_id, stake_amount, status, winner_id, claimed_winner_id,
		       claimed_by, region, match_data, fee_amount, created_at, updated_at, accepted_at`

	queryInsertDuel = `
		INSERT INTO duels (
			id, creator_id, opponent_id, stake_amount, status, region, match_data, fee_amount, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`

	queryGetDuel = `
		SELECT ` + duelColumns + `
		FROM duels
		WHERE id = ?`

	queryListAccountDuels = `
		SELECT ` + duelColumns + `
		FROM duels
		WHERE creator_id = ? OR opponent_id = ?
		ORDER BY created_at DESC
		LIMIT ?`

	queryListOpenChallenges = `
		SELECT ` + duelColumns + `
		FROM duels
		WHERE status = 'pending_challenge'
		ORDER BY created_at
		LIMIT ?`

	queryActivateDuel = `
		UPDATE duels
		SET status = 'active', opponent_id = ?, accepted_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`

	querySettleDuel = `
		UPDATE duels
		SET status = 'completed_unseen', winner_id = ?, fee_amount = ?,
		    match_data = COALESCE(?, match_data), updated_at = ?
		WHERE id = ? AND status = ?`

	queryTransitionDuel = `
		UPDATE duels
		SET status = ?, claimed_winner_id = COALESCE(?, claimed_winner_id),
		    claimed_by = COALESCE(?, claimed_by), updated_at = ?
		WHERE id = ? AND status = ?`

	queryListExpirableDuels = `
		SELECT ` + duelColumns + `
		FROM duels
		WHERE (status IN ('pending_challenge', 'pending_acceptance') AND created_at < ?)
		   OR (status IN ('active', 'awaiting_result') AND accepted_at < ?)
		ORDER BY created_at
		LIMIT ?`

	// Payout queries
	payoutColumns = `id, user_id, gem_amount, destination_address, token_type, status, tx_hash,
		       error_message, created_at, updated_at`

	queryInsertPayout = `
		INSERT INTO payout_requests (
			id, user_id, gem_amount, destination_address, token_type, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, 'pending', ?, ?)`

	queryGetPayout = `
		SELECT ` + payoutColumns + `
		FROM payout_requests
		WHERE id = ?`

	queryListPayoutsByStatus = `
		SELECT ` + payoutColumns + `
		FROM payout_requests
		WHERE status = ?
		ORDER BY created_at
		LIMIT ?`

	queryListAccountPayouts = `
		SELECT ` + payoutColumns + `
		FROM payout_requests
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`

	queryTransitionPayout = `
		UPDATE payout_requests
		SET status = ?, tx_hash = COALESCE(?, tx_hash), error_message = COALESCE(?, error_message), updated_at = ?
		WHERE id = ? AND status = ?`

	// Review and audit queries
	queryInsertReview = `
		INSERT INTO account_reviews (id, account_id, tx_hash, reason, shortfall, resolved, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`

	queryListOpenReviews = `
		SELECT id, account_id, tx_hash, reason, shortfall, resolved, resolved_by, note, created_at
		FROM account_reviews
		WHERE resolved = 0
		ORDER BY created_at`

	queryListAllReviews = `
		SELECT id, account_id, tx_hash, reason, shortfall, resolved, resolved_by, note, created_at
		FROM account_reviews
		ORDER BY created_at`

	queryResolveReview = `
		UPDATE account_reviews
		SET resolved = 1, resolved_by = ?, note = ?, resolved_at = ?
		WHERE id = ? AND resolved = 0`

	queryInsertAdminAction = `
		INSERT INTO admin_actions (id, admin_id, action, target_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryListAdminActions = `
		SELECT id, admin_id, action, target_id, detail, created_at
		FROM admin_actions
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`
)
