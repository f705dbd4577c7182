package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/ajspantry/pantry-offline/internal/conf"
)

const (
	mqttQoS               = 1
	mqttDisconnectQuiesce = 250 // milliseconds
)

// MQTTProvider publishes notifications as JSON to an MQTT topic. The
// connection is opened lazily on first send and reused.
type MQTTProvider struct {
	typeFilter
	settings conf.MQTTSettings
	timeout  time.Duration

	mu     sync.Mutex
	client paho.Client
	// newClient is swapped in tests.
	newClient func(*paho.ClientOptions) paho.Client
}

// NewMQTTProvider creates a provider from MQTT settings.
func NewMQTTProvider(settings conf.MQTTSettings, timeout time.Duration) *MQTTProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MQTTProvider{
		settings:  settings,
		timeout:   timeout,
		newClient: paho.NewClient,
	}
}

func (p *MQTTProvider) GetName() string { return "mqtt" }

func (p *MQTTProvider) IsEnabled() bool { return p.settings.Enabled }

// ValidateConfig checks broker and topic.
func (p *MQTTProvider) ValidateConfig() error {
	if !p.settings.Enabled {
		return nil
	}
	if p.settings.Broker == "" {
		return providerError(p.GetName(), fmt.Errorf("broker is required"))
	}
	if p.settings.Topic == "" {
		return providerError(p.GetName(), fmt.Errorf("topic is required"))
	}
	return nil
}

// Send publishes n to the configured topic with QoS 1.
func (p *MQTTProvider) Send(ctx context.Context, n *Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return providerError(p.GetName(), err)
	}

	client, err := p.connect(ctx)
	if err != nil {
		return providerError(p.GetName(), err)
	}

	token := client.Publish(p.settings.Topic, mqttQoS, false, payload)
	if err := waitToken(ctx, token, p.timeout); err != nil {
		return providerError(p.GetName(), err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Disconnect(mqttDisconnectQuiesce)
		p.client = nil
	}
}

func (p *MQTTProvider) connect(ctx context.Context) (paho.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && p.client.IsConnectionOpen() {
		return p.client, nil
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(p.settings.Broker)
	opts.SetClientID(p.settings.ClientID)
	opts.SetConnectTimeout(p.timeout)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	if p.settings.Username != "" {
		opts.SetUsername(p.settings.Username)
		opts.SetPassword(p.settings.Password)
	}

	client := p.newClient(opts)
	if err := waitToken(ctx, client.Connect(), p.timeout); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", p.settings.Broker, err)
	}
	p.client = client
	return client, nil
}

func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("mqtt operation timed out after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
