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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (s *Service) CreateWallet(ctx context.Context, ownerId string, ownerType models.OwnerType) (*models.Wallet, error) {
	walletId := uuid.New().String()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO wallets (id, owner_id, owner_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id, owner_type) DO NOTHING
	`, walletId, ownerId, string(ownerType))
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	if tag.RowsAffected() > 0 {
		zap.L().Info("Wallet created",
			zap.String("wallet_id", walletId),
			zap.String("owner_id", ownerId),
			zap.String("owner_type", string(ownerType)))
	}

	return s.GetWalletByOwner(ctx, ownerId, ownerType)
}

func (s *Service) GetWallet(ctx context.Context, walletId string) (*models.Wallet, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, owner_type, active, created_at, updated_at
		FROM wallets WHERE id = $1
	`, walletId)
	wallet, err := scanWallet(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadBalances(ctx, wallet); err != nil {
		return nil, err
	}
	return wallet, nil
}

func (s *Service) GetWalletByOwner(ctx context.Context, ownerId string, ownerType models.OwnerType) (*models.Wallet, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, owner_type, active, created_at, updated_at
		FROM wallets WHERE owner_id = $1 AND owner_type = $2
	`, ownerId, string(ownerType))
	wallet, err := scanWallet(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadBalances(ctx, wallet); err != nil {
		return nil, err
	}
	return wallet, nil
}

func (s *Service) ListWallets(ctx context.Context) ([]models.Wallet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, owner_type, active, created_at, updated_at
		FROM wallets ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []models.Wallet
	for rows.Next() {
		wallet, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, *wallet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wallet rows: %w", err)
	}

	for i := range wallets {
		if err := s.loadBalances(ctx, &wallets[i]); err != nil {
			return nil, err
		}
	}
	return wallets, nil
}

func (s *Service) DeactivateWallet(ctx context.Context, walletId string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE wallets SET active = FALSE, updated_at = NOW() WHERE id = $1
	`, walletId)
	if err != nil {
		return fmt.Errorf("failed to deactivate wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrWalletNotFound
	}

	zap.L().Info("Wallet deactivated", zap.String("wallet_id", walletId))
	return nil
}

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var wallet models.Wallet
	var ownerType string
	err := row.Scan(&wallet.Id, &wallet.OwnerId, &ownerType, &wallet.Active, &wallet.CreatedAt, &wallet.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan wallet: %w", err)
	}
	wallet.OwnerType = models.OwnerType(ownerType)
	wallet.Balances = make(map[string]decimal.Decimal)
	return &wallet, nil
}

func (s *Service) loadBalances(ctx context.Context, wallet *models.Wallet) error {
	rows, err := s.pool.Query(ctx, `
		SELECT currency, balance FROM wallet_balances WHERE wallet_id = $1 ORDER BY currency
	`, wallet.Id)
	if err != nil {
		return fmt.Errorf("failed to load wallet balances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var currency, balanceStr string
		if err := rows.Scan(&currency, &balanceStr); err != nil {
			return fmt.Errorf("failed to scan wallet balance: %w", err)
		}
		balance, err := decimal.NewFromString(balanceStr)
		if err != nil {
			return fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
		}
		wallet.Balances[currency] = balance
	}
	return rows.Err()
}

// lockWallets takes row locks on the given wallet ids inside tx, always in
// lexicographic order.
func lockWallets(ctx context.Context, tx pgx.Tx, ids ...string) error {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	for _, id := range sorted {
		var locked string
		err := tx.QueryRow(ctx, `SELECT id FROM wallets WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrWalletNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock wallet: %w", err)
		}
	}
	return nil
}
