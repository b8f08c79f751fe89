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
	"errors"
	"flag"
	"fmt"

	"wallet-ledger-go/internal/common"
	"wallet-ledger-go/internal/config"
	"wallet-ledger-go/internal/ledger"
	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"

	"go.uber.org/zap"
)

type withdrawalFlags struct {
	create     bool
	list       string
	review     string
	approve    bool
	process    string
	userId     string
	amount     string
	currency   string
	destType   string
	destDetail string
}

func parseFlags() *withdrawalFlags {
	f := &withdrawalFlags{}
	flag.BoolVar(&f.create, "create", false, "Create a withdrawal request")
	flag.StringVar(&f.list, "list", "", "List withdrawal requests for the given user id")
	flag.StringVar(&f.review, "review", "", "Review the pending request with the given id")
	flag.BoolVar(&f.approve, "approve", false, "Approve instead of reject (with -review)")
	flag.StringVar(&f.process, "process", "", "Process the approved request with the given id")
	flag.StringVar(&f.userId, "user", "", "User id (create)")
	flag.StringVar(&f.amount, "amount", "", "Amount to withdraw (create)")
	flag.StringVar(&f.currency, "currency", "", "Currency code, e.g. USD (create)")
	flag.StringVar(&f.destType, "dest-type", "bank_account", "Destination type (create)")
	flag.StringVar(&f.destDetail, "dest-details", "", "Destination details (create)")
	flag.Parse()
	return f
}

func createRequest(ctx context.Context, engine *ledger.Engine, f *withdrawalFlags) error {
	if f.userId == "" || f.amount == "" || f.currency == "" {
		return fmt.Errorf("flags -user, -amount and -currency are required")
	}
	amount, err := models.NewMoneyFromString(f.amount, f.currency)
	if err != nil {
		return fmt.Errorf("invalid amount format: %w", err)
	}

	request, err := engine.CreateWithdrawalRequest(ctx, ledger.WithdrawalParams{
		UserId:             f.userId,
		Amount:             amount,
		DestinationType:    f.destType,
		DestinationDetails: f.destDetail,
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			return fmt.Errorf("insufficient funds for %s %s", f.amount, f.currency)
		}
		return err
	}

	common.PrintHeader("WITHDRAWAL REQUEST CREATED", common.DefaultWidth)
	printRequest(*request, true)
	return nil
}

func reviewRequest(ctx context.Context, engine *ledger.Engine, requestId string, approve bool) error {
	request, err := engine.ReviewWithdrawalRequest(ctx, requestId, approve)
	if err != nil {
		return err
	}

	verdict := "REJECTED"
	if approve {
		verdict = "APPROVED"
	}
	common.PrintHeader(fmt.Sprintf("WITHDRAWAL REQUEST %s", verdict), common.DefaultWidth)
	printRequest(*request, true)
	return nil
}

func processRequest(ctx context.Context, engine *ledger.Engine, requestId string) error {
	tx, err := engine.ProcessWithdrawal(ctx, requestId)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			return fmt.Errorf("insufficient funds at processing time, request marked failed")
		}
		return err
	}

	common.PrintHeader("WITHDRAWAL PROCESSED", common.DefaultWidth)
	fmt.Printf("\nTransaction: %s\n", tx.Id)
	fmt.Printf("Amount:      %s %s (fee %s)\n", tx.Amount.String(), tx.Currency, tx.Fee.String())
	fmt.Printf("Status:      %s\n", tx.Status)
	return nil
}

func listRequests(ctx context.Context, engine *ledger.Engine, userId string) error {
	requests, err := engine.ListWithdrawalRequests(ctx, userId)
	if err != nil {
		return err
	}

	common.PrintHeader(fmt.Sprintf("WITHDRAWAL REQUESTS: %s", userId), common.DefaultWidth)
	if len(requests) == 0 {
		fmt.Println("\nNo withdrawal requests found.")
		return nil
	}

	fmt.Println()
	for i, request := range requests {
		printRequest(request, i == len(requests)-1)
	}
	return nil
}

func printRequest(request models.WithdrawalRequest, isLast bool) {
	symbol := common.BoxPrefix(isLast)
	detail := common.BoxDetailPrefix(isLast)

	fmt.Printf("%s %s [%s]\n", symbol, request.Id, request.Status)
	fmt.Printf("%s   Amount: %s %s -> %s (%s)\n",
		detail, request.Amount.String(), request.Currency, request.DestinationType, request.DestinationDetails)
	fmt.Printf("%s   Created: %s\n", detail, request.CreatedAt.Format("2006-01-02 15:04:05"))
	if request.TransactionId != "" {
		fmt.Printf("%s   Transaction: %s\n", detail, request.TransactionId)
	}
}

func main() {
	f := parseFlags()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx := context.Background()
	backend, err := common.InitializeStoreOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize ledger store", zap.Error(err))
	}
	defer backend.Close()

	fees := ledger.DefaultFeeSchedule()
	if cfg.FeesFile != "" {
		if fees, err = common.LoadFeeSchedule(cfg.FeesFile); err != nil {
			logger.Fatal("Failed to load fee schedule", zap.Error(err))
		}
	}

	// No webhook pipeline for one-shot CLI operations.
	engine := ledger.NewEngine(backend, fees, ledger.MultiPublisher(nil))

	switch {
	case f.create:
		err = createRequest(ctx, engine, f)
	case f.review != "":
		err = reviewRequest(ctx, engine, f.review, f.approve)
	case f.process != "":
		err = processRequest(ctx, engine, f.process)
	case f.list != "":
		err = listRequests(ctx, engine, f.list)
	default:
		flag.Usage()
		return
	}

	if err != nil {
		logger.Fatal("Withdrawal command failed", zap.Error(err))
	}
}
