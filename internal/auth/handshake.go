package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/momcore/internal/protocol"
	"github.com/nerrad567/momcore/internal/transport"
)

// DefaultTimeout bounds a handshake when Handshake.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// Handshake is the candidate side of the login exchange.
type Handshake struct {
	Topics  protocol.Topics
	Timeout time.Duration
	QoS     byte
	Logger  Logger

	// NewToken generates the response channel suffix. Defaults to a UUID.
	NewToken func() string
}

// Run performs one login attempt for name over conn. It returns nil when the
// authority answers VALIDO, ErrRejected for INVALIDO, ErrTimeout when no
// answer arrives in time, or the context's error. The response channel is
// always unsubscribed before Run returns.
func (h Handshake) Run(ctx context.Context, conn transport.Transport, name string) error {
	if conn == nil {
		return ErrNoTransport
	}
	if err := protocol.ValidateName(protocol.KindUser, name); err != nil {
		return err
	}

	logger := h.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	newToken := h.NewToken
	if newToken == nil {
		newToken = uuid.NewString
	}

	channel := h.Topics.AuthResponse(newToken())
	answers := make(chan bool, 1)

	handler := func(_ string, payload []byte) error {
		valid, err := protocol.DecodeAuthResponse(payload)
		if err != nil {
			logger.Warn("malformed auth response ignored", "channel", channel, "error", err)
			return err
		}
		select {
		case answers <- valid:
		default:
			// Duplicate answer from a second authority.
		}
		return nil
	}

	if err := conn.Subscribe(channel, h.QoS, handler); err != nil {
		return fmt.Errorf("subscribing to auth response: %w", err)
	}
	defer func() {
		if err := conn.Unsubscribe(channel); err != nil && !errors.Is(err, transport.ErrClosed) {
			logger.Warn("unsubscribing auth response channel", "channel", channel, "error", err)
		}
	}()

	req := protocol.EncodeAuthRequest(name, channel)
	if err := conn.Publish(h.Topics.AuthRequest(), req, h.QoS, false); err != nil {
		return fmt.Errorf("publishing auth request: %w", err)
	}
	logger.Debug("auth request sent", "name", name, "channel", channel)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case valid := <-answers:
		if !valid {
			return fmt.Errorf("%w: %s", ErrRejected, name)
		}
		logger.Info("login accepted", "name", name)
		return nil
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
