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
	"strings"

	"wallet-ledger-go/internal/common"
	"wallet-ledger-go/internal/config"
	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/webhook"

	"go.uber.org/zap"
)

func printEndpoint(endpoint models.WebhookEndpoint, isLast bool) {
	symbol := common.BoxPrefix(isLast)
	detail := common.BoxDetailPrefix(isLast)

	status := "active"
	if !endpoint.Active {
		status = "deactivated"
	}
	lastDelivery := "never"
	if endpoint.LastDeliveryAt != nil {
		lastDelivery = endpoint.LastDeliveryAt.Format("2006-01-02 15:04:05")
	}

	fmt.Printf("%s %s (%s)\n", symbol, endpoint.Id, status)
	fmt.Printf("%s   URL: %s\n", detail, endpoint.Url)
	fmt.Printf("%s   Events: %s\n", detail, strings.Join(endpoint.Events, ", "))
	fmt.Printf("%s   Failures: %d, Retries: %d, Last delivery: %s\n",
		detail, endpoint.FailureCount, endpoint.RetryCount, lastDelivery)
}

func registerEndpoint(ctx context.Context, registry *webhook.Registry, businessId, url, events string) error {
	eventList := strings.Split(events, ",")
	for i := range eventList {
		eventList[i] = strings.TrimSpace(eventList[i])
	}

	endpoint, err := registry.CreateEndpoint(ctx, businessId, url, eventList)
	if err != nil {
		return err
	}

	common.PrintHeader("WEBHOOK ENDPOINT REGISTERED", common.DefaultWidth)
	fmt.Printf("\nEndpoint ID: %s\n", endpoint.Id)
	fmt.Printf("URL:         %s\n", endpoint.Url)
	fmt.Printf("Events:      %s\n", strings.Join(endpoint.Events, ", "))
	fmt.Printf("Secret:      %s\n", endpoint.Secret)
	common.PrintFooter("Store the secret now. It cannot be retrieved again.", common.DefaultWidth)
	return nil
}

func listEndpoints(ctx context.Context, registry *webhook.Registry, businessId string) error {
	endpoints, err := registry.GetEndpoints(ctx, businessId)
	if err != nil {
		return err
	}

	common.PrintHeader(fmt.Sprintf("WEBHOOK ENDPOINTS: %s", businessId), common.DefaultWidth)
	if len(endpoints) == 0 {
		fmt.Println("\nNo active endpoints registered.")
		return nil
	}

	fmt.Println()
	for i, endpoint := range endpoints {
		printEndpoint(endpoint, i == len(endpoints)-1)
	}
	return nil
}

func main() {
	registerFlag := flag.Bool("register", false, "Register a new webhook endpoint")
	listFlag := flag.Bool("list", false, "List active endpoints for a business")
	deactivateFlag := flag.String("deactivate", "", "Deactivate the endpoint with the given id")
	businessFlag := flag.String("business", "", "Business id owning the endpoint")
	urlFlag := flag.String("url", "", "Endpoint URL (register)")
	eventsFlag := flag.String("events", "", "Comma-separated event types (register)")
	flag.Parse()

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

	registry := webhook.NewRegistry(backend)

	switch {
	case *registerFlag:
		if err := registerEndpoint(ctx, registry, *businessFlag, *urlFlag, *eventsFlag); err != nil {
			logger.Fatal("Failed to register endpoint", zap.Error(err))
		}
	case *listFlag:
		if *businessFlag == "" {
			logger.Fatal("Missing required flag", zap.String("flag", "-business"))
		}
		if err := listEndpoints(ctx, registry, *businessFlag); err != nil {
			logger.Fatal("Failed to list endpoints", zap.Error(err))
		}
	case *deactivateFlag != "":
		if err := registry.DeactivateEndpoint(ctx, *deactivateFlag); err != nil {
			logger.Fatal("Failed to deactivate endpoint", zap.Error(err))
		}
		fmt.Printf("Endpoint %s deactivated.\n", *deactivateFlag)
	default:
		flag.Usage()
	}
}
