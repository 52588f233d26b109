package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"example.com/backstage/services/webhooks/internal/events"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
)

// ServiceBusClient is an interface for Azure Service Bus operations
type ServiceBusClient interface {
	SendMessage(ctx context.Context, body interface{}) error
	Close() error
}

// serviceBusClient implements the ServiceBusClient interface
type serviceBusClient struct {
	client     *azservicebus.Client
	sender     *azservicebus.Sender
	queueName  string
	clientType string
}

// NewServiceBusClient creates a new Azure Service Bus client sending
// to the given queue
func NewServiceBusClient(connectionString, queueName, clientType string) (ServiceBusClient, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus client: %w", err)
	}

	sender, err := client.NewSender(queueName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus sender: %w", err)
	}

	return &serviceBusClient{
		client:     client,
		sender:     sender,
		queueName:  queueName,
		clientType: clientType,
	}, nil
}

// SendMessage sends a message to the Service Bus queue
func (s *serviceBusClient) SendMessage(ctx context.Context, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal message body: %w", err)
	}

	msg := &azservicebus.Message{
		Body: data,
		ApplicationProperties: map[string]interface{}{
			"source": s.clientType,
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
	}

	return s.sender.SendMessage(ctx, msg, nil)
}

// Close closes the Service Bus client
func (s *serviceBusClient) Close() error {
	if s.sender != nil {
		if err := s.sender.Close(context.Background()); err != nil {
			return err
		}
	}

	if s.client != nil {
		return s.client.Close(context.Background())
	}

	return nil
}

// ServiceBusEventBus publishes typed domain events over Service Bus.
// Payloads are checked against their schema before anything leaves the
// process.
type ServiceBusEventBus struct {
	client ServiceBusClient
}

// NewServiceBusEventBus creates a bus backed by the given client
func NewServiceBusEventBus(client ServiceBusClient) *ServiceBusEventBus {
	return &ServiceBusEventBus{client: client}
}

// EmitTyped validates and publishes a domain event envelope
func (b *ServiceBusEventBus) EmitTyped(ctx context.Context, name string, payload interface{}, source string) error {
	if err := events.ValidatePayload(name, payload); err != nil {
		return err
	}

	return b.client.SendMessage(ctx, events.Envelope{
		Name:    name,
		Payload: payload,
		Source:  source,
		Time:    time.Now().UTC(),
	})
}
