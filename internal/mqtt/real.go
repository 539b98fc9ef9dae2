package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sweeney/rpi-gpio/gpio"
)

const bufferCapacity = 1000

// Config holds the broker connection settings.
type Config struct {
	Broker   string
	ClientID string
	Topics   Topics
}

// RealPublisher publishes to an actual MQTT broker. Messages published
// while the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics

	mu        sync.Mutex
	buffer    *ringBuffer
	onCommand CommandHandler
	connected bool
}

// NewRealPublisher creates a publisher connected to the given broker.
// A retained SHUTDOWN event is registered as the will, so subscribers see
// the bridge go away even if it is killed.
func NewRealPublisher(cfg Config) (*RealPublisher, error) {
	p := &RealPublisher{
		topics: cfg.Topics,
		buffer: newRingBuffer(bufferCapacity),
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "gpio-bridge"
	}
	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(p.topics.System(), will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		// ConnectRetry keeps trying; publishes are buffered until onConnect.
		log.Printf("mqtt: broker %s not reachable yet, retrying in background", cfg.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// Publish sends a pin change to the MQTT broker.
func (p *RealPublisher) Publish(change gpio.Change) error {
	payload, err := FormatPayload(change)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.topics.Change(change.Channel), payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(bufferedMsg{
		topic:    p.topics.System(),
		payload:  payload,
		qos:      1,
		retained: event.Retained,
	})
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	p.mu.Lock()
	if !p.connected {
		p.buffer.push(msg)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// OnCommand subscribes to write commands and calls fn for each valid one.
// The subscription is renewed on every reconnect.
func (p *RealPublisher) OnCommand(fn CommandHandler) error {
	p.mu.Lock()
	p.onCommand = fn
	connected := p.connected
	p.mu.Unlock()

	if !connected {
		return nil
	}
	return p.subscribe(p.client)
}

func (p *RealPublisher) subscribe(c paho.Client) error {
	token := c.Subscribe(p.topics.Command(), 1, p.handleMessage)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe %s timeout", p.topics.Command())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", p.topics.Command(), err)
	}
	return nil
}

func (p *RealPublisher) handleMessage(_ paho.Client, msg paho.Message) {
	cmd, err := ParseCommand(p.topics, msg.Topic(), msg.Payload())
	if err != nil {
		log.Printf("mqtt: ignoring command: %v", err)
		return
	}
	p.mu.Lock()
	fn := p.onCommand
	p.mu.Unlock()
	if fn != nil {
		fn(cmd)
	}
}

// onConnect runs on paho's goroutine after every successful (re)connect.
// Publishes keep going to the buffer until it has been replayed, so newer
// messages cannot overtake older ones.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	hasHandler := p.onCommand != nil
	p.mu.Unlock()

	if hasHandler {
		if err := p.subscribe(c); err != nil {
			log.Printf("mqtt: %v", err)
		}
	}

	for {
		p.mu.Lock()
		pending := p.buffer.drainAll()
		if len(pending) == 0 {
			p.connected = true
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		log.Printf("mqtt: replaying %d buffered messages", len(pending))
		if sent := replay(c, pending); sent < len(pending) {
			p.mu.Lock()
			p.buffer.requeue(pending[sent:])
			p.mu.Unlock()
			log.Printf("mqtt: connection dropped during replay, %d messages kept", len(pending)-sent)
			return
		}
	}
}

// replay publishes msgs in order and returns how many were handled. It
// stops early only when the connection is gone.
func replay(c paho.Client, msgs []bufferedMsg) int {
	for i, msg := range msgs {
		token := c.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
		if token.WaitTimeout(5*time.Second) && token.Error() == nil {
			continue
		}
		if !c.IsConnectionOpen() {
			return i
		}
		log.Printf("mqtt: replay to %s failed", msg.topic)
	}
	return len(msgs)
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	log.Printf("mqtt: connection lost: %v", err)
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
}

// IsConnected reports whether the client currently has a broker connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
