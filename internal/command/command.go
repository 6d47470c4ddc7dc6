// Package command defines outbound device commands, the host's responses
// to them, and the queue that buffers them between control ticks.
package command

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nerrad567/ferrobot-core/internal/device"
	"github.com/nerrad567/ferrobot-core/internal/wire"
)

// Tag identifies the command type within a device kind.
type Tag uint8

// Command is a request addressed to one device. Frame carries the
// kind-specific payload and is owned by whoever holds the command.
type Command struct {
	ID     string
	Device device.Identity
	Tag    Tag
	Frame  *wire.Frame
}

// New builds a command for dev with a fresh ID, copying payload into a
// pooled frame.
func New(dev device.Identity, tag Tag, payload []byte) Command {
	return Command{
		ID:     uuid.NewString(),
		Device: dev,
		Tag:    tag,
		Frame:  wire.NewFrame(dev.Kind, payload),
	}
}

// Payload returns the frame bytes, or nil when the command has no frame.
func (c Command) Payload() []byte {
	if c.Frame == nil {
		return nil
	}
	return c.Frame.Bytes()
}

func (c Command) String() string {
	return fmt.Sprintf("%s tag=%d id=%s", c.Device, c.Tag, c.ID)
}

// ResponseCode is the host's verdict on a synchronously executed command.
type ResponseCode uint8

const (
	ResponseOK ResponseCode = iota
	ResponseExists
	ResponseBadConfig
	ResponseBadCommand
)

func (c ResponseCode) String() string {
	switch c {
	case ResponseOK:
		return "ok"
	case ResponseExists:
		return "exists"
	case ResponseBadConfig:
		return "bad_config"
	case ResponseBadCommand:
		return "bad_command"
	default:
		return fmt.Sprintf("code(%d)", uint8(c))
	}
}

// Response is what the host returns from Execute.
type Response struct {
	Code    ResponseCode
	Payload []byte
}

// OK reports whether the host accepted the command.
func (r Response) OK() bool {
	return r.Code == ResponseOK
}

// Executor runs a command on the host and waits for its response. It is
// used only for construction-time commands; everything else goes through
// the queue. The executor borrows the command's frame for the duration of
// the call.
type Executor interface {
	Execute(ctx context.Context, cmd Command) Response
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, cmd Command) Response

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, cmd Command) Response {
	return f(ctx, cmd)
}
