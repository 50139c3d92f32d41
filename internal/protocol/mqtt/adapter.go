package mqtt

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/sumire-audio/zonehub/internal/coordinator"
	"github.com/sumire-audio/zonehub/internal/domain"
)

// Config configures the MQTT adapter's broker connection and topic root.
type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	TopicRoot string
}

// Adapter is the MQTT protocol adapter. It is both a coordinator.Egress
// (publishes status to retained topics) and a command ingress (subscribes
// to every `.../set` topic and submits parsed commands to the coordinator).
type Adapter struct {
	cfg    Config
	coord  *coordinator.Coordinator
	log    *slog.Logger
	client paho.Client
}

// New builds an Adapter without connecting. Call Connect to dial the broker
// and subscribe.
func New(cfg Config, coord *coordinator.Coordinator, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	if cfg.TopicRoot == "" {
		cfg.TopicRoot = "snapdog"
	}
	if cfg.ClientID == "" {
		// A random suffix keeps restarts and multi-instance deployments from
		// colliding on the broker's session table.
		cfg.ClientID = "zonehub-" + uuid.NewString()
	}
	return &Adapter{cfg: cfg, coord: coord, log: log}
}

// Protocol implements coordinator.Egress.
func (a *Adapter) Protocol() domain.SourceProtocol { return domain.SourceMQTT }

// Publish implements coordinator.Egress: it encodes a StatusEvent to its
// retained status topic at QoS 1, best-effort.
func (a *Adapter) Publish(ev coordinator.StatusEvent) {
	if a.client == nil || !a.client.IsConnected() {
		return
	}
	codec, ok := codecFor(ev.EntityKind, ev.Field)
	if !ok {
		return
	}
	payload, err := codec.encode(ev.Value)
	if err != nil {
		a.log.Warn("mqtt: failed to encode status payload", "field", ev.Field, "error", err)
		return
	}
	topic := a.statusTopic(ev.EntityKind, ev.EntityID, ev.Field)
	token := a.client.Publish(topic, 1, true, payload)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			a.log.Warn("mqtt: publish failed", "topic", topic, "error", token.Error())
		}
	}()
}

func (a *Adapter) statusTopic(k coordinator.EntityKind, id int, field string) string {
	return fmt.Sprintf("%s/%s/%d/%s", a.cfg.TopicRoot, scopeFor(k), id, field)
}

// Connect dials the broker and subscribes to every command topic. It
// re-subscribes automatically on reconnect via the client's OnConnect
// handler, since paho drops subscriptions across a connection loss.
func (a *Adapter) Connect() error {
	opts := paho.NewClientOptions().
		AddBroker(a.cfg.BrokerURL).
		SetClientID(a.cfg.ClientID).
		SetUsername(a.cfg.Username).
		SetPassword(a.cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectionLostHandler(func(c paho.Client, err error) {
			a.log.Warn("mqtt: connection lost", "error", err)
		})
	opts.OnConnect = func(c paho.Client) {
		a.log.Info("mqtt: connected", "broker", a.cfg.BrokerURL)
		sub := a.cfg.TopicRoot + "/+/+/+/set"
		if token := c.Subscribe(sub, 1, a.handleMessage); token.Wait() && token.Error() != nil {
			a.log.Error("mqtt: failed to subscribe", "topic", sub, "error", token.Error())
		}
	}

	a.client = paho.NewClient(opts)
	token := a.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt: connect: %w", token.Error())
	}
	return nil
}

// Disconnect cleanly closes the broker connection.
func (a *Adapter) Disconnect() {
	if a.client != nil {
		a.client.Disconnect(250)
	}
}

// handleMessage parses one `{root}/{scope}/{id}/{field}/set` message and
// submits the resulting command. Malformed topics or payloads are logged
// and dropped rather than crashing the subscriber.
func (a *Adapter) handleMessage(_ paho.Client, msg paho.Message) {
	parts := strings.Split(strings.TrimPrefix(msg.Topic(), a.cfg.TopicRoot+"/"), "/")
	if len(parts) != 4 || parts[3] != "set" {
		a.log.Warn("mqtt: ignoring malformed command topic", "topic", msg.Topic())
		return
	}
	scopeStr, idStr, field := parts[0], parts[1], parts[2]

	var entityKind coordinator.EntityKind
	switch scope(scopeStr) {
	case scopeZone:
		entityKind = coordinator.EntityZone
	case scopeClient:
		entityKind = coordinator.EntityClient
	default:
		a.log.Warn("mqtt: unrecognized scope in command topic", "topic", msg.Topic())
		return
	}

	var id int
	if _, err := fmt.Sscanf(idStr, "%d", &id); err != nil {
		a.log.Warn("mqtt: unrecognized entity id in command topic", "topic", msg.Topic())
		return
	}

	codec, ok := codecFor(entityKind, field)
	if !ok {
		a.log.Warn("mqtt: unrecognized field in command topic", "topic", msg.Topic())
		return
	}
	cmd, err := codec.decode(id, string(msg.Payload()))
	if err != nil {
		a.log.Warn("mqtt: failed to decode command payload", "topic", msg.Topic(), "error", err)
		return
	}
	if err := a.coord.Submit(cmd); err != nil {
		a.log.Warn("mqtt: failed to submit command", "topic", msg.Topic(), "error", err)
	}
}
