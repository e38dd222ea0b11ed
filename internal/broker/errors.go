package broker

import (
	"errors"
	"net"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Sentinel errors surfaced by the broker layer.
var (
	ErrQueueNotFound     = errors.New("queue not found")
	ErrBrokerUnreachable = errors.New("broker unreachable")
	ErrChannelClosed     = errors.New("channel closed")
	ErrPoolClosed        = errors.New("channel pool closed")
	ErrInvalidConfig     = errors.New("invalid broker config")
)

// IsQueueNotFound reports whether err means the addressed queue is not declared.
func IsQueueNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQueueNotFound) {
		return true
	}
	var amqpErr *amqp.Error
	return errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound
}

// IsUnreachable reports whether err means the broker connection is refused,
// broken or already closed.
func IsUnreachable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBrokerUnreachable) || errors.Is(err, amqp.ErrClosed) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
