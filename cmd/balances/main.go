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

package main

import (
	"context"
	"flag"
	"fmt"
	"sort"

	"wallet-ledger-go/internal/common"
	"wallet-ledger-go/internal/config"
	"wallet-ledger-go/internal/models"

	"go.uber.org/zap"
)

type balanceStats struct {
	totalWallets     int
	totalBalances    int
	walletsWithFunds int
	inactiveWallets  int
}

func printWalletHeader(wallet models.Wallet, balanceCount int) {
	status := "active"
	if !wallet.Active {
		status = "deactivated"
	}
	fmt.Printf("\n┌─ Wallet: %s (%s)\n", wallet.Id, status)
	fmt.Printf("│  Owner: %s/%s\n", wallet.OwnerType, wallet.OwnerId)
	fmt.Printf("│  Currencies: %d\n", balanceCount)
}

func printWalletBalances(wallet models.Wallet) {
	currencies := make([]string, 0, len(wallet.Balances))
	for currency := range wallet.Balances {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)

	for i, currency := range currencies {
		symbol := common.BoxPrefix(i == len(currencies)-1)
		fmt.Printf("%s %-8s: %20s\n", symbol, currency, wallet.Balances[currency].String())
	}
}

func processWallets(wallets []models.Wallet, ownerFilter string) balanceStats {
	stats := balanceStats{}

	for _, wallet := range wallets {
		if ownerFilter != "" && wallet.OwnerId != ownerFilter {
			continue
		}
		stats.totalWallets++
		if !wallet.Active {
			stats.inactiveWallets++
		}
		if len(wallet.Balances) == 0 {
			continue
		}

		stats.walletsWithFunds++
		stats.totalBalances += len(wallet.Balances)

		printWalletHeader(wallet, len(wallet.Balances))
		printWalletBalances(wallet)
	}

	return stats
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ownerFlag := flag.String("owner", "", "Filter by specific owner id (optional)")
	flag.Parse()

	logger.Info("Starting balance query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Connecting to ledger store", zap.String("backend", cfg.Backend))
	ledgerStore, err := common.InitializeStoreOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize ledger store", zap.Error(err))
	}
	defer ledgerStore.Close()

	wallets, err := ledgerStore.ListWallets(ctx)
	if err != nil {
		logger.Fatal("Failed to list wallets", zap.Error(err))
	}

	common.PrintHeader("WALLET BALANCE REPORT", common.DefaultWidth)

	stats := processWallets(wallets, *ownerFlag)

	summary := fmt.Sprintf("SUMMARY: %d wallets with funds (%d balances across %d wallets, %d deactivated)",
		stats.walletsWithFunds, stats.totalBalances, stats.totalWallets, stats.inactiveWallets)
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Balance query completed",
		zap.Int("wallets_queried", stats.totalWallets),
		zap.Int("wallets_with_funds", stats.walletsWithFunds),
		zap.Int("total_balances", stats.totalBalances))
}
