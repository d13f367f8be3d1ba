package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDirection(t *testing.T) {
	for _, dir := range []Direction{Forward, Backward, Left, Right, Stop} {
		cmd, err := EncodeDirection(dir)
		require.NoError(t, err)
		assert.Equal(t, string(dir), cmd.Payload())
		assert.Equal(t, string(dir)+"\n", cmd.Wire("\n"))
	}

	_, err := EncodeDirection("UP")
	assert.ErrorIs(t, err, ErrUnknownDirection)
}

func TestEncodeSpeedClamps(t *testing.T) {
	tests := []struct {
		level int
		want  string
	}{
		{-5, "SPEED:0"},
		{0, "SPEED:0"},
		{50, "SPEED:50"},
		{100, "SPEED:100"},
		{150, "SPEED:100"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EncodeSpeed(tt.level).Payload(), "level %d", tt.level)
	}

	assert.Equal(t, EncodeSpeed(0), EncodeSpeed(-5))
	assert.Equal(t, EncodeSpeed(100), EncodeSpeed(150))
}

func TestEncodeAction(t *testing.T) {
	for _, a := range []Action{Horn, Light, Turbo} {
		cmd, err := EncodeAction(a)
		require.NoError(t, err)
		assert.Equal(t, string(a), cmd.Payload())
	}

	_, err := EncodeAction("BEEP")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestEncodeFreeText(t *testing.T) {
	cmd, ok := EncodeFreeText("  bip bip \t")
	require.True(t, ok)
	assert.Equal(t, "bip bip", cmd.Payload())

	for _, blank := range []string{"", "   ", "\n\t"} {
		cmd, ok := EncodeFreeText(blank)
		assert.False(t, ok)
		assert.True(t, cmd.IsZero())
	}
}

func TestFreeTextRejectsLineBreaks(t *testing.T) {
	for _, text := range []string{"hello\nFORWARD", "hello\r\nSTOP", "a\rb"} {
		cmd, ok := EncodeFreeText(text)
		assert.False(t, ok, text)
		assert.True(t, cmd.IsZero(), text)

		_, err := FreeText(text)
		assert.ErrorIs(t, err, ErrLineBreak, text)

		_, err = Parse(text)
		assert.ErrorIs(t, err, ErrLineBreak, text)
	}

	// Surrounding line breaks are trimmed, not rejected.
	cmd, err := FreeText("\nhello\r\n")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", cmd.Wire("\n"))
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"forward", "FORWARD"},
		{" Stop ", "STOP"},
		{"horn", "HORN"},
		{"speed:70", "SPEED:70"},
		{"SPEED: 250", "SPEED:100"},
		{"led on", "led on"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			cmd, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd.Payload())
		})
	}

	_, err := Parse("   ")
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = Parse("speed:fast")
	assert.Error(t, err)
}

func TestSpeed(t *testing.T) {
	n, ok := Speed(EncodeSpeed(70))
	assert.True(t, ok)
	assert.Equal(t, 70, n)

	_, ok = Speed(Command{payload: "FORWARD"})
	assert.False(t, ok)
}
