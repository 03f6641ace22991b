// Package events receives offer-changed notifications for single listings.
// Delivery is at-least-once and unordered; duplicates and stale events are
// harmless because the coordinator drops contended keys and the store's
// epoch fence discards stale decisions.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	appconfig "repriceflow/config"
	"repriceflow/logger"
	"repriceflow/models"
)

// Handler consumes one offer-changed notification.
type Handler interface {
	HandleOfferChangedEvent(ctx context.Context, key models.ListingKey) error
}

// Consumer long-polls the events queue and feeds listing keys to the
// coordinator.
type Consumer struct {
	config  appconfig.EventsConfig
	client  *sqs.Client
	handler Handler

	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
}

// offerChangedEvent matches the notification body. Events are delivered in
// an EventBridge envelope with the listing key in the detail object.
type offerChangedEvent struct {
	Detail struct {
		ASIN          string `json:"asin"`
		MarketplaceID string `json:"marketplaceId"`
	} `json:"detail"`
}

// NewConsumer creates an SQS consumer for the configured events queue.
func NewConsumer(ctx context.Context, cfg appconfig.EventsConfig, handler Handler) (*Consumer, error) {
	log := logger.GetLogger()

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	consumer := &Consumer{
		config:  cfg,
		client:  sqs.NewFromConfig(awsCfg),
		handler: handler,
		wg:      &sync.WaitGroup{},
		log:     log,
	}

	log.WithComponent("event_consumer").WithFields(logger.Fields{
		"queue": cfg.QueueURL,
	}).Debug("event consumer initialized")

	return consumer, nil
}

// Start begins long-polling the events queue.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("event consumer already running")
	}
	c.running = true
	c.ctx = ctx
	c.mu.Unlock()

	log := c.log.WithComponent("event_consumer")
	log.WithFields(logger.Fields{"wait_time": c.config.WaitTime}).Info("starting event consumer")

	c.wg.Add(1)
	go c.pollLoop()

	return nil
}

// Stop signals the poll loop to finish and waits for it.
func (c *Consumer) Stop() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	c.log.WithComponent("event_consumer").Info("stopping event consumer")
	c.wg.Wait()
	c.log.WithComponent("event_consumer").Info("event consumer stopped")
}

func (c *Consumer) stopped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.running
}

func (c *Consumer) pollLoop() {
	defer c.wg.Done()
	log := c.log.WithComponent("event_consumer")

	for {
		if c.stopped() {
			log.Info("poll loop stopped")
			return
		}
		select {
		case <-c.ctx.Done():
			log.Info("poll loop stopped due to context cancellation")
			return
		default:
		}

		out, err := c.client.ReceiveMessage(c.ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.config.QueueURL),
			MaxNumberOfMessages: c.config.MaxMessages,
			WaitTimeSeconds:     int32(c.config.WaitTime.Seconds()),
		})
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("failed to receive events")
			continue
		}

		for _, msg := range out.Messages {
			c.handleMessage(msg)
		}
	}
}

// handleMessage processes one notification. The message is deleted unless
// the handler failed retryably, in which case it stays on the queue for
// redelivery after the visibility timeout.
func (c *Consumer) handleMessage(msg sqstypes.Message) {
	log := c.log.WithComponent("event_consumer")

	key, err := parseEvent(msg.Body)
	if err != nil {
		log.WithError(err).Warn("malformed event, discarding")
		c.deleteMessage(msg)
		return
	}

	err = c.handler.HandleOfferChangedEvent(c.ctx, key)
	if err != nil && models.IsRetryable(err) {
		log.WithError(err).WithFields(logger.Fields{"listing": key.String()}).Warn("event handling failed, leaving for redelivery")
		return
	}
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"listing":    key.String(),
			"error_kind": string(models.KindOf(err)),
		}).Error("event handling failed")
	}
	c.deleteMessage(msg)
}

func parseEvent(body *string) (models.ListingKey, error) {
	if body == nil {
		return models.ListingKey{}, fmt.Errorf("event has no body")
	}
	var event offerChangedEvent
	if err := json.Unmarshal([]byte(*body), &event); err != nil {
		return models.ListingKey{}, fmt.Errorf("parse event: %w", err)
	}
	key := models.ListingKey{
		CatalogItemID: event.Detail.ASIN,
		MarketplaceID: event.Detail.MarketplaceID,
	}
	if key.CatalogItemID == "" || key.MarketplaceID == "" {
		return models.ListingKey{}, fmt.Errorf("event missing asin or marketplaceId")
	}
	return key, nil
}

func (c *Consumer) deleteMessage(msg sqstypes.Message) {
	if msg.ReceiptHandle == nil {
		return
	}
	_, err := c.client.DeleteMessage(c.ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.config.QueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil && c.ctx.Err() == nil {
		c.log.WithComponent("event_consumer").WithError(err).Warn("failed to delete event message")
	}
}
