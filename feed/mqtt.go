package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	mqttKeepAlive       = 60 * time.Second
	mqttPingTimeout     = 10 * time.Second
	mqttConnectTimeout  = 10 * time.Second
	mqttDisconnectMilli = 250
)

// mqttTransport delivers push updates over an MQTT subscription. The
// library's auto-reconnect stays disabled: the manager owns reconnection so
// its connection state machine reflects reality.
type mqttTransport struct {
	broker    string
	port      int
	topic     string
	client    mqtt.Client
	closeOnce sync.Once
	closed    chan struct{}
}

// NewMQTTTransport returns a factory subscribing to topic on the broker.
func NewMQTTTransport(broker string, port int, topic string) TransportFactory {
	return func() Transport {
		return &mqttTransport{
			broker: broker,
			port:   port,
			topic:  topic,
			closed: make(chan struct{}),
		}
	}
}

func (t *mqttTransport) Open(ctx context.Context, onPayload func([]byte), onDown func(error)) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", t.broker, t.port))
	opts.SetClientID(fmt.Sprintf("genesis-dash-%d", time.Now().UnixNano()))
	opts.SetKeepAlive(mqttKeepAlive)
	opts.SetPingTimeout(mqttPingTimeout)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetAutoReconnect(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		select {
		case <-t.closed:
		default:
			onDown(&ConnError{Op: "read", Err: err})
		}
	})

	t.client = mqtt.NewClient(opts)

	token := t.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout + time.Second) {
		return &ConnError{Op: "open", Err: context.DeadlineExceeded}
	}
	if err := token.Error(); err != nil {
		return &ConnError{Op: "open", Err: err}
	}

	sub := t.client.Subscribe(t.topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		onPayload(msg.Payload())
	})
	if sub.Wait() && sub.Error() != nil {
		t.client.Disconnect(mqttDisconnectMilli)
		return &ConnError{Op: "subscribe", Err: sub.Error()}
	}
	return nil
}

func (t *mqttTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.client != nil && t.client.IsConnected() {
			t.client.Unsubscribe(t.topic)
			t.client.Disconnect(mqttDisconnectMilli)
		}
	})
	return nil
}
