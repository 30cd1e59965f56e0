// Package notify implements the illustrative MQTT notifier plugin
// (D4): it publishes a Notifier service over the plugin service
// registry, backed by an MQTT broker connection managed by
// autopaho, mirroring the connection-management pattern the teacher
// package uses for Home Assistant discovery (retained messages, a
// will message for availability, OnConnectionUp/OnConnectError
// hooks). It also registers one on_message matcher that demonstrates
// a plugin consuming its own published service through ServiceRef.
package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/alloyrt/alloy/internal/dispatch"
	"github.com/alloyrt/alloy/internal/event"
	"github.com/alloyrt/alloy/internal/plugin"
)

// Name is this plugin's registered name.
const Name = "notify"

// Config is the plugin's own config slice (§6's plugins.<name>
// section), decoded via PluginConfig[Config] and also read directly
// by OnLoad for broker connection parameters.
type Config struct {
	BrokerURL   string `json:"broker_url"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
	Keyword     string `json:"keyword"`
}

// Notifier is the service this plugin publishes. Other plugins depend
// on it by declaring reflect.TypeOf((*Notifier)(nil)).Elem() in their
// Descriptor.DependsOn and extracting dispatch.ServiceRef[Notifier].
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// ServiceKey is the type identity other plugins depend on.
func ServiceKey() plugin.ServiceKey {
	return reflect.TypeOf((*Notifier)(nil)).Elem()
}

type notifier struct {
	cm          *autopaho.ConnectionManager
	topicPrefix string
	logger      *slog.Logger
}

func (n *notifier) Notify(ctx context.Context, subject, body string) error {
	if n.cm == nil {
		return fmt.Errorf("notify: not connected")
	}
	payload, err := json.Marshal(map[string]string{"subject": subject, "body": body})
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}
	_, err = n.cm.Publish(ctx, &paho.Publish{
		Topic:   n.topicPrefix + "/notify",
		Payload: payload,
		QoS:     1,
	})
	return err
}

// New builds the plugin descriptor. cfg is decoded once at OnLoad
// time to obtain the broker connection parameters; handlers reach the
// same values via dispatch.PluginConfig[Config].
func New() *plugin.Descriptor {
	n := &notifier{logger: slog.Default().With("component", "plugin.notify")}

	d := &plugin.Descriptor{
		Name:    Name,
		Version: "1.0.0",
		Provides: []plugin.Provision{
			{
				Key: ServiceKey(),
				New: func(ctx context.Context) (any, error) { return n, nil },
			},
		},
		OnLoad: func(ctx context.Context, raw []byte) error {
			var cfg Config
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &cfg); err != nil {
					return fmt.Errorf("notify: decode config: %w", err)
				}
			}
			if cfg.BrokerURL == "" {
				return fmt.Errorf("notify: broker_url is required")
			}
			if cfg.TopicPrefix == "" {
				cfg.TopicPrefix = "alloyrt"
			}
			return n.connect(ctx, cfg)
		},
		OnUnload: func(ctx context.Context) error {
			if n.cm != nil {
				return n.cm.Disconnect(ctx)
			}
			return nil
		},
	}

	d.Matchers = []*dispatch.Matcher{
		dispatch.OnMessage("notify.keyword").Handle(
			func(ctx *dispatch.Context, cfg dispatch.PluginConfig[Config], svc dispatch.ServiceRef[Notifier], ev dispatch.Event[event.MessageEvent]) {
				keyword := cfg.Value.Keyword
				if keyword == "" {
					keyword = "alert"
				}
				if !strings.Contains(strings.ToLower(ev.Value.PlainText()), strings.ToLower(keyword)) {
					return
				}
				if err := svc.Value.Notify(ctx.Std(), "keyword matched", ev.Value.PlainText()); err != nil {
					slog.Default().Warn("notify: publish failed", "error", err)
				}
			},
		),
	}

	return d
}

func (n *notifier) connect(ctx context.Context, cfg Config) error {
	brokerURL, err := url.Parse(cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("notify: parse broker_url: %w", err)
	}

	clientID := cfg.ClientID
	if clientID == "" {
		// A fixed fallback ID would collide if two alloyrt instances
		// point at the same broker; mint a fresh one per process.
		clientID = "alloyrt-notify-" + uuid.NewString()
	}
	n.topicPrefix = cfg.TopicPrefix

	pahoCfg := autopaho.ClientConfig{
		ServerUrls: []*url.URL{brokerURL},
		KeepAlive:  30,
		WillMessage: &paho.WillMessage{
			Topic:   cfg.TopicPrefix + "/availability",
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			n.logger.Info("mqtt connected", "broker", cfg.BrokerURL)
			pubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_, _ = cm.Publish(pubCtx, &paho.Publish{
				Topic:   cfg.TopicPrefix + "/availability",
				Payload: []byte("online"),
				QoS:     1,
				Retain:  true,
			})
		},
		OnConnectError: func(err error) {
			n.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{ClientID: clientID},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("notify: connect: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		return fmt.Errorf("notify: initial connection failed: %w", err)
	}

	n.cm = cm
	return nil
}
