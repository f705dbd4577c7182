//go:build integration

//nolint:misspell // Mosquitto is the official Eclipse project name
package containers

import (
	"context"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	mosquittoImage = "eclipse-mosquitto"
	mosquittoPort  = "1883/tcp"
	mosquittoConf  = "listener 1883\nallow_anonymous true\n"
)

// MosquittoConfig configures the broker container.
type MosquittoConfig struct {
	// Tag of the eclipse-mosquitto image; "2.0" when empty.
	Tag string
}

// MosquittoContainer runs an anonymous MQTT broker.
type MosquittoContainer struct {
	container testcontainers.Container
	brokerURL string
}

// NewMosquittoContainer starts a broker and waits for its listener.
func NewMosquittoContainer(ctx context.Context, cfg *MosquittoConfig) (*MosquittoContainer, error) {
	tag := "2.0"
	if cfg != nil && cfg.Tag != "" {
		tag = cfg.Tag
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        mosquittoImage + ":" + tag,
			ExposedPorts: []string{mosquittoPort},
			Cmd:          []string{"mosquitto", "-c", "/mosquitto/config/pantry.conf"},
			Files: []testcontainers.ContainerFile{{
				Reader:            strings.NewReader(mosquittoConf),
				ContainerFilePath: "/mosquitto/config/pantry.conf",
				FileMode:          0o644,
			}},
			WaitingFor: wait.ForListeningPort(mosquittoPort).WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start mosquitto: %w", err)
	}

	brokerURL, err := container.PortEndpoint(ctx, mosquittoPort, "tcp")
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("mosquitto endpoint: %w", err)
	}
	return &MosquittoContainer{container: container, brokerURL: brokerURL}, nil
}

// BrokerURL returns the broker address, e.g. "tcp://localhost:32771".
func (c *MosquittoContainer) BrokerURL() string {
	return c.brokerURL
}

// CreateClient returns a connected client. The caller disconnects it.
func (c *MosquittoContainer) CreateClient(clientID string) (paho.Client, error) {
	client := paho.NewClient(paho.NewClientOptions().
		AddBroker(c.brokerURL).
		SetClientID(clientID).
		SetConnectTimeout(10 * time.Second).
		SetAutoReconnect(false))

	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("client %s: connect timeout", clientID)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("client %s: %w", clientID, err)
	}
	return client, nil
}

// Terminate stops and removes the container.
func (c *MosquittoContainer) Terminate(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	return c.container.Terminate(ctx)
}
