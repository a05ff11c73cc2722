// Package hsu serializes every hardware access of a high-speed UART port
// through one per-port command queue and a single executor.
package hsu

import (
	"fmt"
	"strings"
)

// Command is a hardware intent queued for a port.
type Command uint8

const (
	Overflow Command = iota
	GetModemStatus
	SetModemControl
	SetInterruptEnable
	StartRx
	StopRx
	StartTx
	StopTx
	ConsoleFlush
	PortIrq
	DmaIrq
	EnableIrq
	QueueShutdown

	numCommands
)

var commandNames = [numCommands]string{
	Overflow:           "Overflow",
	GetModemStatus:     "GetModemStatus",
	SetModemControl:    "SetModemControl",
	SetInterruptEnable: "SetInterruptEnable",
	StartRx:            "StartRx",
	StopRx:             "StopRx",
	StartTx:            "StartTx",
	StopTx:             "StopTx",
	ConsoleFlush:       "ConsoleFlush",
	PortIrq:            "PortIrq",
	DmaIrq:             "DmaIrq",
	EnableIrq:          "EnableIrq",
	QueueShutdown:      "QueueShutdown",
}

func (c Command) String() string {
	if c.valid() {
		return commandNames[c]
	}
	return fmt.Sprintf("Command(%d)", uint8(c))
}

func (c Command) valid() bool { return c < numCommands }

// coalescible reports whether a duplicate of c queued right behind
// another c carries no new information. Interrupt-style commands always
// do.
func (c Command) coalescible() bool {
	switch c {
	case EnableIrq, PortIrq, DmaIrq:
		return false
	}
	return true
}

// ParseCommand resolves a command by its name, case-insensitively.
func ParseCommand(name string) (Command, error) {
	for i, n := range commandNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return Command(i), nil
		}
	}
	return 0, fmt.Errorf("unknown command %q", name)
}

// Effect is what the hardware asks the executor to do after a command.
type Effect struct {
	next   Command
	follow bool
}

// NoEffect is the empty Effect.
var NoEffect = Effect{}

// Reenqueue asks the executor to queue cmd behind everything already
// pending.
func Reenqueue(cmd Command) Effect {
	return Effect{next: cmd, follow: true}
}

// FollowUp returns the command to re-enqueue, if any.
func (e Effect) FollowUp() (Command, bool) {
	return e.next, e.follow
}

// Hardware applies commands to a port. Apply is only ever called by the
// port's executor, never concurrently for the same port.
type Hardware interface {
	Apply(port int, cmd Command) (Effect, error)
}

// QuiescenceHinter is optionally implemented by Hardware. It is used for
// diagnostics only.
type QuiescenceHinter interface {
	Quiescing(port int) bool
}
