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
	"errors"
	"fmt"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateWallet provisions a wallet for the owner. A second call for the same
// (owner_id, owner_type) pair is a no-op returning the existing wallet.
func (s *Service) CreateWallet(ctx context.Context, ownerId string, ownerType models.OwnerType) (*models.Wallet, error) {
	walletId := uuid.New().String()
	result, err := s.db.ExecContext(ctx, queryInsertWallet, walletId, ownerId, string(ownerType))
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected > 0 {
		zap.L().Info("Wallet created",
			zap.String("wallet_id", walletId),
			zap.String("owner_id", ownerId),
			zap.String("owner_type", string(ownerType)))
	}

	return s.GetWalletByOwner(ctx, ownerId, ownerType)
}

func (s *Service) GetWallet(ctx context.Context, walletId string) (*models.Wallet, error) {
	wallet, err := s.scanWallet(s.db.QueryRowContext(ctx, queryGetWallet, walletId))
	if err != nil {
		return nil, err
	}
	if err := s.loadBalances(ctx, wallet); err != nil {
		return nil, err
	}
	return wallet, nil
}

func (s *Service) GetWalletByOwner(ctx context.Context, ownerId string, ownerType models.OwnerType) (*models.Wallet, error) {
	wallet, err := s.scanWallet(s.db.QueryRowContext(ctx, queryGetWalletByOwner, ownerId, string(ownerType)))
	if err != nil {
		return nil, err
	}
	if err := s.loadBalances(ctx, wallet); err != nil {
		return nil, err
	}
	return wallet, nil
}

func (s *Service) ListWallets(ctx context.Context) ([]models.Wallet, error) {
	rows, err := s.db.QueryContext(ctx, queryListWallets)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var wallets []models.Wallet
	for rows.Next() {
		wallet, err := s.scanWallet(rows)
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
	result, err := s.db.ExecContext(ctx, queryDeactivateWallet, walletId)
	if err != nil {
		return fmt.Errorf("failed to deactivate wallet: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrWalletNotFound
	}

	zap.L().Info("Wallet deactivated", zap.String("wallet_id", walletId))
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func newBalanceId() string {
	return uuid.New().String()
}

func (s *Service) scanWallet(row rowScanner) (*models.Wallet, error) {
	var wallet models.Wallet
	var ownerType string
	err := row.Scan(&wallet.Id, &wallet.OwnerId, &ownerType, &wallet.Active, &wallet.CreatedAt, &wallet.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
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
	rows, err := s.db.QueryContext(ctx, queryGetWalletBalances, wallet.Id)
	if err != nil {
		return fmt.Errorf("failed to load wallet balances: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

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
