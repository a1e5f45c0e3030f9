package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNoChannel — соединение ещё не открыло канал (или переподключается).
var ErrNoChannel = errors.New("no channel available")

// ErrClosed — соединение закрыто через Close.
var ErrClosed = errors.New("connection closed")

const maxReconnectDelay = 30 * time.Second

// Connection — AMQP соединение с автоматическим reconnect.
//
// Общий канал используется для публикации и объявления топологии.
// Consumer'ы открывают собственные каналы через OpenChannel, чтобы их
// prefetch и отмена не влияли на публикацию.
//
// После каждого переподключения закрывается канал, возвращённый
// ReconnectNotify: все ожидающие consumer'ы узнают о нём одновременно.
type Connection struct {
	url    string
	logger *slog.Logger

	mu          sync.RWMutex
	conn        *amqp.Connection
	channel     *amqp.Channel
	reconnected chan struct{}
	closed      bool
	done        chan struct{}
}

// NewConnection подключается к RabbitMQ и следит за соединением.
func NewConnection(url string, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Connection{
		url:         url,
		logger:      logger,
		reconnected: make(chan struct{}),
		done:        make(chan struct{}),
	}

	conn, err := c.dial()
	if err != nil {
		return nil, err
	}

	go c.watch(conn)
	return c, nil
}

// Connect подключается к RabbitMQ, повторяя попытки с растущей задержкой.
func Connect(ctx context.Context, url string, logger *slog.Logger, attempts int) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if attempts < 1 {
		attempts = 1
	}

	delay := time.Second
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := NewConnection(url, logger)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if i == attempts {
			break
		}
		logger.Warn("rabbitmq not ready", "attempt", i, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, 10*time.Second)
	}

	return nil, fmt.Errorf("connect to rabbitmq after %d attempts: %w", attempts, lastErr)
}

// dial открывает соединение и общий канал.
func (c *Connection) dial() (*amqp.Connection, error) {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		conn.Close()
		return nil, ErrClosed
	}
	c.conn = conn
	c.channel = ch

	c.logger.Info("connected to RabbitMQ")
	return conn, nil
}

// watch ждёт разрыва соединения и переподключается.
func (c *Connection) watch(conn *amqp.Connection) {
	for {
		notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-c.done:
			return
		case err := <-notifyClose:
			if err != nil {
				c.logger.Warn("connection lost", "error", err)
			}
		}

		c.mu.Lock()
		c.channel = nil
		c.mu.Unlock()

		next, ok := c.redial()
		if !ok {
			return
		}
		conn = next

		// Будим всех, кто ждёт переподключения
		c.mu.Lock()
		close(c.reconnected)
		c.reconnected = make(chan struct{})
		c.mu.Unlock()
	}
}

// redial пытается переподключиться с экспоненциальной задержкой.
// Возвращает false, если соединение закрыто через Close.
func (c *Connection) redial() (*amqp.Connection, bool) {
	delay := time.Second
	for {
		c.logger.Info("attempting to reconnect", "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-c.done:
			timer.Stop()
			return nil, false
		case <-timer.C:
		}

		conn, err := c.dial()
		if errors.Is(err, ErrClosed) {
			return nil, false
		}
		if err != nil {
			c.logger.Warn("reconnect failed", "error", err)
			delay = min(delay*2, maxReconnectDelay)
			continue
		}

		c.logger.Info("reconnected to RabbitMQ")
		return conn, true
	}
}

// Channel возвращает общий AMQP канал (nil во время переподключения).
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// OpenChannel открывает отдельный канал на текущем соединении.
// Закрыть его должен вызывающий.
func (c *Connection) OpenChannel() (*amqp.Channel, error) {
	c.mu.RLock()
	conn, closed := c.conn, c.closed
	c.mu.RUnlock()

	switch {
	case closed:
		return nil, ErrClosed
	case conn == nil || conn.IsClosed():
		return nil, ErrNoChannel
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, nil
}

// ReconnectNotify возвращает канал, который закроется после ближайшего
// переподключения.
func (c *Connection) ReconnectNotify() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnected
}

// Done закрывается вызовом Close.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close закрывает соединение. Повторный вызов ничего не делает.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}

	c.logger.Info("connection closed")
	return errors.Join(errs...)
}

// IsConnected проверяет, установлено ли соединение.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed() && c.channel != nil
}

// WithChannel выполняет fn на общем канале.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ch := c.Channel()
	if ch == nil {
		return ErrNoChannel
	}
	return fn(ch)
}
