// Package command encodes vehicle intents into the HC-06 wire vocabulary.
//
// The firmware understands newline-terminated ASCII tokens:
//
//	FORWARD BACKWARD LEFT RIGHT STOP   direction (STOP also ends a press-hold)
//	HORN LIGHT TURBO                   momentary actions
//	SPEED:<0-100>                      motor duty in percent
//
// Anything else is passed through as free text. There is no acknowledgement
// protocol; every command is fire-and-forget.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Command is an immutable wire payload, without its delimiter.
type Command struct {
	payload string
}

// Payload returns the command text as sent, minus the delimiter.
func (c Command) Payload() string { return c.payload }

// Wire returns the payload terminated with delim.
func (c Command) Wire(delim string) string { return c.payload + delim }

func (c Command) String() string { return c.payload }

// IsZero reports whether c is the zero Command.
func (c Command) IsZero() bool { return c.payload == "" }

// Direction is a drive token. Stop is a direction like any other.
type Direction string

const (
	Forward  Direction = "FORWARD"
	Backward Direction = "BACKWARD"
	Left     Direction = "LEFT"
	Right    Direction = "RIGHT"
	Stop     Direction = "STOP"
)

// Action is a momentary accessory token.
type Action string

const (
	Horn  Action = "HORN"
	Light Action = "LIGHT"
	Turbo Action = "TURBO"
)

const (
	MinSpeed     = 0
	MaxSpeed     = 100
	DefaultSpeed = 50
	speedPrefix  = "SPEED:"
)

var (
	// ErrUnknownDirection is returned for a direction outside the five tokens.
	ErrUnknownDirection = errors.New("unknown direction")

	// ErrUnknownAction is returned for an action outside HORN/LIGHT/TURBO.
	ErrUnknownAction = errors.New("unknown action")

	// ErrEmpty is returned by Parse for blank input.
	ErrEmpty = errors.New("empty command")

	// ErrLineBreak is returned for text holding a line delimiter, which
	// would reach the device as more than one command.
	ErrLineBreak = errors.New("command contains a line break")
)

// EncodeDirection returns the command for dir.
func EncodeDirection(dir Direction) (Command, error) {
	if !isDirection(dir) {
		return Command{}, fmt.Errorf("command: %q: %w", string(dir), ErrUnknownDirection)
	}
	return Command{payload: string(dir)}, nil
}

// EncodeSpeed clamps level into [0,100] and returns SPEED:<level>.
func EncodeSpeed(level int) Command {
	return Command{payload: speedPrefix + strconv.Itoa(ClampSpeed(level))}
}

// ClampSpeed limits level to [MinSpeed, MaxSpeed].
func ClampSpeed(level int) int {
	if level < MinSpeed {
		return MinSpeed
	}
	if level > MaxSpeed {
		return MaxSpeed
	}
	return level
}

// EncodeAction returns the command for kind.
func EncodeAction(kind Action) (Command, error) {
	if !isAction(kind) {
		return Command{}, fmt.Errorf("command: %q: %w", string(kind), ErrUnknownAction)
	}
	return Command{payload: string(kind)}, nil
}

// EncodeFreeText trims text and returns it as a command.
// ok is false when nothing is left to send or the text spans lines.
func EncodeFreeText(text string) (cmd Command, ok bool) {
	cmd, err := FreeText(text)
	return cmd, err == nil
}

// FreeText is EncodeFreeText with the reason for a rejection: ErrEmpty
// for blank text, ErrLineBreak for text with an inner CR or LF.
func FreeText(text string) (Command, error) {
	t := strings.TrimSpace(text)
	if t == "" {
		return Command{}, ErrEmpty
	}
	if strings.ContainsAny(t, "\r\n") {
		return Command{}, fmt.Errorf("command: %q: %w", t, ErrLineBreak)
	}
	return Command{payload: t}, nil
}

// Parse maps a user-entered token to a command. Known tokens match
// case-insensitively ("forward", "Speed:70"); a SPEED value is clamped.
// Anything else becomes free text.
func Parse(token string) (Command, error) {
	t := strings.TrimSpace(token)
	if t == "" {
		return Command{}, ErrEmpty
	}
	upper := strings.ToUpper(t)

	if dir := Direction(upper); isDirection(dir) {
		return EncodeDirection(dir)
	}
	if act := Action(upper); isAction(act) {
		return EncodeAction(act)
	}
	if strings.HasPrefix(upper, speedPrefix) {
		n, err := strconv.Atoi(strings.TrimSpace(upper[len(speedPrefix):]))
		if err != nil {
			return Command{}, fmt.Errorf("command: bad speed %q: %w", t, err)
		}
		return EncodeSpeed(n), nil
	}

	return FreeText(t)
}

func isDirection(d Direction) bool {
	switch d {
	case Forward, Backward, Left, Right, Stop:
		return true
	}
	return false
}

func isAction(a Action) bool {
	switch a {
	case Horn, Light, Turbo:
		return true
	}
	return false
}

// Speed extracts the level from a SPEED command.
func Speed(c Command) (int, bool) {
	if !strings.HasPrefix(c.payload, speedPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(c.payload[len(speedPrefix):])
	if err != nil {
		return 0, false
	}
	return n, true
}
