package prompt

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPromptListDefault(t *testing.T) {
	reader := bufio.NewReader(strings.NewReader("\n"))
	reply, err := promptList(reader, "pick one", []string{"a", "b"}, "b")
	require.NoError(t, err)
	require.Equal(t, "b", reply)

	// Invalid entries are re-prompted until a valid one arrives.
	reader = bufio.NewReader(strings.NewReader("c\nA\n"))
	reply, err = promptList(reader, "pick one", []string{"a", "b"}, "b")
	require.NoError(t, err)
	require.Equal(t, "a", reply)
}

func TestPromptListBool(t *testing.T) {
	for input, want := range map[string]bool{
		"yes\n": true,
		"y\n":   true,
		"no\n":  false,
		"\n":    false,
	} {
		reader := bufio.NewReader(strings.NewReader(input))
		got, err := promptListBool(reader, "sure?", "no")
		require.NoError(t, err)
		require.Equal(t, want, got, "input %q", input)
	}
}

func TestSeedUserProvided(t *testing.T) {
	seedHex := strings.Repeat("ab", SeedLength)
	reader := bufio.NewReader(strings.NewReader("yes\n" + seedHex + "\n"))

	seed, err := Seed(reader)
	require.NoError(t, err)
	require.Len(t, seed, SeedLength)
	require.Equal(t, byte(0xab), seed[0])
}

func TestSeedUserProvidedBadLength(t *testing.T) {
	// A too-short seed is rejected and the prompt repeats.
	reader := bufio.NewReader(strings.NewReader(
		"yes\nabcd\n" + strings.Repeat("cd", MinSeedBytes) + "\n"))

	seed, err := Seed(reader)
	require.NoError(t, err)
	require.Len(t, seed, MinSeedBytes)
}

func TestSeedGenerated(t *testing.T) {
	reader := bufio.NewReader(strings.NewReader("no\nnot yet\nOK\n"))

	seed, err := Seed(reader)
	require.NoError(t, err)
	require.Len(t, seed, SeedLength)
}
