package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPConfig holds the connection settings for an AMQP 0-9-1 broker.
type AMQPConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	VHost         string
	DurableQueues bool
	DialTimeout   time.Duration
}

// URL renders the amqp:// connection URL.
func (c AMQPConfig) URL() string {
	u := url.URL{
		Scheme: "amqp",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.VHost,
	}
	if c.VHost == "" || c.VHost == "/" {
		u.Path = "/"
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	return u.String()
}

// NewAMQPDialer validates cfg and returns a Dialer that opens AMQP connections.
func NewAMQPDialer(cfg AMQPConfig) (Dialer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: broker host is required", ErrInvalidConfig)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: broker port %d out of range", ErrInvalidConfig, cfg.Port)
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	target := cfg.URL()
	return func(ctx context.Context) (Connection, error) {
		conn, err := amqp.DialConfig(target, amqp.Config{
			Dial: func(network, addr string) (net.Conn, error) {
				d := net.Dialer{Timeout: timeout}
				return d.DialContext(ctx, network, addr)
			},
			Heartbeat: 10 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBrokerUnreachable, err)
		}
		return &amqpConnection{conn: conn, durable: cfg.DurableQueues}, nil
	}, nil
}

type amqpConnection struct {
	conn    *amqp.Connection
	durable bool
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		if errors.Is(err, amqp.ErrClosed) {
			return nil, fmt.Errorf("%w: %w", ErrBrokerUnreachable, err)
		}
		return nil, err
	}
	return &amqpChannel{ch: ch, durable: c.durable}, nil
}

func (c *amqpConnection) IsClosed() bool {
	return c.conn.IsClosed()
}

func (c *amqpConnection) Close() error {
	return c.conn.Close()
}

type amqpChannel struct {
	ch      *amqp.Channel
	durable bool
}

// Publish sends through the default exchange with the queue name as routing key.
func (c *amqpChannel) Publish(ctx context.Context, queue string, msg Message) error {
	headers := make(amqp.Table, len(msg.Headers))
	for k, v := range msg.Headers {
		headers[k] = v
	}
	return c.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      headers,
		Timestamp:    msg.Timestamp,
		DeliveryMode: amqp.Persistent,
	})
}

func (c *amqpChannel) Get(queue string) (Delivery, bool, error) {
	d, ok, err := c.ch.Get(queue, true)
	if err != nil || !ok {
		return Delivery{}, false, err
	}
	headers := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		if s, isString := v.(string); isString {
			headers[k] = s
		}
	}
	return Delivery{
		Queue:       queue,
		ContentType: d.ContentType,
		Body:        d.Body,
		Headers:     headers,
	}, true, nil
}

func (c *amqpChannel) QueueDeclare(queue string) error {
	_, err := c.ch.QueueDeclare(queue, c.durable, false, false, false, nil)
	return err
}

func (c *amqpChannel) IsClosed() bool {
	return c.ch.IsClosed()
}

func (c *amqpChannel) Close() error {
	return c.ch.Close()
}
