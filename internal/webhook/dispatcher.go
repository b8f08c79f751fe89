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

package webhook

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"
)

// defaultRetryOffsets are measured from the first delivery attempt, not from
// the previous retry. A retry whose target time has already passed fires
// immediately.
var defaultRetryOffsets = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	60 * time.Minute,
}

const (
	defaultWorkers   = 4
	defaultQueueSize = 256

	// requeueDelay is used when a job arrives while another attempt for the
	// same endpoint and event is in flight.
	requeueDelay = 5 * time.Second
)

type deliveryJob struct {
	EndpointId   string
	Event        string
	Body         []byte
	Attempt      int
	FirstAttempt time.Time
}

// Dispatcher fans transaction events out to subscribed webhook endpoints
// through a fixed worker pool. Delivery is fire-and-forget from the caller's
// perspective: enqueueing never blocks ledger operations.
type Dispatcher struct {
	endpoints    store.EndpointStore
	sender       Sender
	queue        chan deliveryJob
	workers      int
	retryOffsets []time.Duration

	now       func() time.Time
	afterFunc func(d time.Duration, fn func()) *time.Timer

	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	stopChan chan struct{}
	doneChan chan struct{}
	wg       sync.WaitGroup
	fanoutWg sync.WaitGroup
}

type DispatcherConfig struct {
	Endpoints store.EndpointStore
	Sender    Sender
	Workers   int
	QueueSize int

	// Now and AfterFunc override the clock in tests.
	Now       func() time.Time
	AfterFunc func(d time.Duration, fn func()) *time.Timer
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	afterFunc := cfg.AfterFunc
	if afterFunc == nil {
		afterFunc = time.AfterFunc
	}

	return &Dispatcher{
		endpoints:    cfg.Endpoints,
		sender:       cfg.Sender,
		queue:        make(chan deliveryJob, queueSize),
		workers:      workers,
		retryOffsets: defaultRetryOffsets,
		now:          now,
		afterFunc:    afterFunc,
		timers:       make(map[*time.Timer]struct{}),
		inflight:     make(map[string]struct{}),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

func (d *Dispatcher) Start() {
	zap.L().Info("starting webhook dispatcher", zap.Int("workers", d.workers))

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	go func() {
		d.wg.Wait()
		close(d.doneChan)
	}()
}

// Stop drains the worker pool. Pending retry timers are cancelled; their
// deliveries are lost, which is acceptable because delivery is at-most-once
// across process restarts.
func (d *Dispatcher) Stop() {
	zap.L().Info("stopping webhook dispatcher")

	close(d.stopChan)

	d.timersMu.Lock()
	for timer := range d.timers {
		timer.Stop()
	}
	d.timers = make(map[*time.Timer]struct{})
	d.timersMu.Unlock()

	<-d.doneChan
	d.fanoutWg.Wait()

	zap.L().Info("webhook dispatcher stopped")
}

// Publish implements the ledger event sink. It looks up the subscribed
// endpoints for the event's business off the caller's goroutine and enqueues
// one delivery chain per endpoint.
func (d *Dispatcher) Publish(_ context.Context, event models.TransactionEvent) {
	select {
	case <-d.stopChan:
		return
	default:
	}

	timestamp := event.Timestamp
	if timestamp.IsZero() {
		timestamp = d.now()
	}

	payload := make(map[string]interface{}, len(event.Payload)+2)
	for key, value := range event.Payload {
		payload[key] = value
	}
	payload["event"] = event.EventType
	payload["timestamp"] = timestamp.UTC().Format(time.RFC3339)

	body, err := json.Marshal(payload)
	if err != nil {
		zap.L().Error("failed to marshal webhook payload",
			zap.String("eventType", event.EventType),
			zap.Error(err))
		return
	}

	d.fanoutWg.Add(1)
	go func() {
		defer d.fanoutWg.Done()
		d.fanOut(event.EventType, event.BusinessId, body)
	}()
}

func (d *Dispatcher) fanOut(eventType, businessId string, body []byte) {
	select {
	case <-d.stopChan:
		return
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	endpoints, err := d.endpoints.ListEndpointsForEvent(ctx, businessId, eventType)
	if err != nil {
		zap.L().Error("failed to list webhook endpoints",
			zap.String("businessId", businessId),
			zap.String("eventType", eventType),
			zap.Error(err))
		return
	}

	firstAttempt := d.now()
	for _, endpoint := range endpoints {
		d.enqueue(deliveryJob{
			EndpointId:   endpoint.Id,
			Event:        eventType,
			Body:         body,
			FirstAttempt: firstAttempt,
		})
	}
}

func (d *Dispatcher) enqueue(job deliveryJob) {
	select {
	case <-d.stopChan:
		return
	case d.queue <- job:
	default:
		// Queue is full. Park the handoff on its own goroutine rather than
		// block the producer.
		go func() {
			select {
			case d.queue <- job:
			case <-d.stopChan:
			}
		}()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopChan:
			return
		case job := <-d.queue:
			d.process(job)
		}
	}
}

func (d *Dispatcher) process(job deliveryJob) {
	key := job.EndpointId + "|" + job.Event
	if !d.tryAcquire(key) {
		d.scheduleAfter(job, requeueDelay)
		return
	}
	defer d.release(key)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	endpoint, err := d.endpoints.GetEndpoint(ctx, job.EndpointId)
	if err != nil {
		zap.L().Warn("dropping webhook delivery, endpoint lookup failed",
			zap.String("endpointId", job.EndpointId),
			zap.String("eventType", job.Event),
			zap.Error(err))
		return
	}
	if !endpoint.Active {
		zap.L().Info("dropping webhook delivery for deactivated endpoint",
			zap.String("endpointId", endpoint.Id),
			zap.String("eventType", job.Event))
		return
	}

	headers := map[string]string{
		HeaderEvent:     job.Event,
		HeaderSignature: GenerateSignature(job.Body, endpoint.Secret),
	}

	status, sendErr := d.sender.Post(ctx, endpoint.Url, headers, job.Body)
	if sendErr == nil && status >= 200 && status < 300 {
		deliveredAt := d.now()
		if err := d.endpoints.UpdateEndpointCounters(ctx, endpoint.Id, 0, endpoint.RetryCount, &deliveredAt); err != nil {
			zap.L().Error("failed to record webhook delivery",
				zap.String("endpointId", endpoint.Id),
				zap.Error(err))
		}
		zap.L().Info("webhook delivered",
			zap.String("endpointId", endpoint.Id),
			zap.String("eventType", job.Event),
			zap.Int("status", status),
			zap.Int("attempt", job.Attempt+1))
		return
	}

	zap.L().Warn("webhook delivery attempt failed",
		zap.String("endpointId", endpoint.Id),
		zap.String("eventType", job.Event),
		zap.Int("status", status),
		zap.Int("attempt", job.Attempt+1),
		zap.Error(sendErr))

	failureCount := endpoint.FailureCount + 1
	retryCount := endpoint.RetryCount

	if job.Attempt >= len(d.retryOffsets) {
		if err := d.endpoints.UpdateEndpointCounters(ctx, endpoint.Id, failureCount, retryCount, nil); err != nil {
			zap.L().Error("failed to update webhook endpoint counters",
				zap.String("endpointId", endpoint.Id),
				zap.Error(err))
		}
		zap.L().Error("webhook delivery exhausted all retries",
			zap.String("endpointId", endpoint.Id),
			zap.String("eventType", job.Event),
			zap.Int("attempts", job.Attempt+1))
		return
	}

	offset := d.retryOffsets[job.Attempt]
	retryCount++
	if err := d.endpoints.UpdateEndpointCounters(ctx, endpoint.Id, failureCount, retryCount, nil); err != nil {
		zap.L().Error("failed to update webhook endpoint counters",
			zap.String("endpointId", endpoint.Id),
			zap.Error(err))
	}

	job.Attempt++
	delay := job.FirstAttempt.Add(offset).Sub(d.now())
	if delay < 0 {
		delay = 0
	}
	d.scheduleAfter(job, delay)
}

func (d *Dispatcher) scheduleAfter(job deliveryJob, delay time.Duration) {
	select {
	case <-d.stopChan:
		return
	default:
	}

	var timer *time.Timer
	timer = d.afterFunc(delay, func() {
		d.forgetTimer(timer)
		d.enqueue(job)
	})
	if timer != nil {
		d.trackTimer(timer)
	}
}

func (d *Dispatcher) trackTimer(timer *time.Timer) {
	d.timersMu.Lock()
	d.timers[timer] = struct{}{}
	d.timersMu.Unlock()
}

func (d *Dispatcher) forgetTimer(timer *time.Timer) {
	if timer == nil {
		return
	}
	d.timersMu.Lock()
	delete(d.timers, timer)
	d.timersMu.Unlock()
}

func (d *Dispatcher) tryAcquire(key string) bool {
	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()
	if _, busy := d.inflight[key]; busy {
		return false
	}
	d.inflight[key] = struct{}{}
	return true
}

func (d *Dispatcher) release(key string) {
	d.inflightMu.Lock()
	delete(d.inflight, key)
	d.inflightMu.Unlock()
}
