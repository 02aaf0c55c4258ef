package auth

import (
	"github.com/nerrad567/momcore/internal/event"
	"github.com/nerrad567/momcore/internal/protocol"
)

// Membership answers whether a user is in the directory.
type Membership interface {
	HasUser(name string) bool
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Authority answers login requests from the directory it is given.
// Handle runs on the dispatch drain loop.
type Authority struct {
	members Membership
	emit    event.Emitter
	logger  Logger
}

// NewAuthority creates an authority backed by members.
func NewAuthority(members Membership, emit event.Emitter) *Authority {
	if emit == nil {
		emit = event.Discard
	}
	return &Authority{members: members, emit: emit, logger: noopLogger{}}
}

// SetLogger sets the logger for the authority.
func (a *Authority) SetLogger(logger Logger) {
	a.logger = logger
}

// Handle returns the answer to publish for a decoded request: VALIDO when
// the name is a known user, INVALIDO otherwise. Answers are never retained.
func (a *Authority) Handle(req protocol.AuthRequest) protocol.Outbound {
	valid := a.members.HasUser(req.Name)

	a.logger.Debug("auth request answered", "name", req.Name, "valid", valid)
	a.emit(event.Event{
		Type:  event.AuthAnswered,
		Kind:  protocol.KindUser,
		Name:  req.Name,
		Valid: valid,
		Topic: req.ResponseChannel,
	})

	return protocol.Outbound{
		Topic:   req.ResponseChannel,
		Payload: protocol.EncodeAuthResponse(valid),
	}
}
