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

// Package rabbitmq mirrors transaction events onto an AMQP topic exchange
// for downstream consumers (analytics, reconciliation jobs). Delivery here
// is best-effort; webhook delivery is the contractual channel.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"wallet-ledger-go/internal/models"
)

type Publisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	if url == "" {
		return nil, fmt.Errorf("amqp url cannot be empty")
	}
	if exchange == "" {
		return nil, fmt.Errorf("amqp exchange cannot be empty")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-delete
		false,    // internal
		false,    // no-wait
		nil,      // args
	); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	zap.L().Info("RabbitMQ publisher connected", zap.String("exchange", exchange))
	return &Publisher{conn: conn, channel: channel, exchange: exchange}, nil
}

// Publish mirrors the event using its type as routing key. Errors are logged
// and swallowed: event fan-out must never fail a committed ledger operation.
func (p *Publisher) Publish(ctx context.Context, event models.TransactionEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		zap.L().Error("failed to marshal transaction event", zap.Error(err))
		return
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(publishCtx,
		p.exchange,      // exchange
		event.EventType, // routing key
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.Timestamp,
		},
	)
	if err != nil {
		zap.L().Error("failed to publish transaction event",
			zap.String("eventType", event.EventType),
			zap.Error(err))
		return
	}

	zap.L().Debug("Transaction event published to RabbitMQ",
		zap.String("eventType", event.EventType),
		zap.String("businessId", event.BusinessId))
}

func (p *Publisher) Close() {
	if err := p.channel.Close(); err != nil {
		zap.L().Warn("Failed to close AMQP channel", zap.Error(err))
	}
	if err := p.conn.Close(); err != nil {
		zap.L().Warn("Failed to close AMQP connection", zap.Error(err))
	}
}
