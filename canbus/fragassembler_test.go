package canbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChannelID = 0x18FF50E5

func sendAndAssemble(t *testing.T, payload []byte) []byte {
	t.Helper()
	a, b := NewLoopbackPair()
	defer a.Close()

	link := NewCanLink(a)
	require.NoError(t, link.SendPayload(testChannelID, "test", payload))

	asm := NewFragAssembler(testChannelID, nil)
	var result []byte
	for {
		frame, ok, err := b.Recv(0)
		require.NoError(t, err)
		require.True(t, ok)

		out, complete := asm.OnFrame(frame)
		if complete {
			result = out
			break
		}
	}
	return result
}

func TestFragAssemblerRoundTripVariousLengths(t *testing.T) {
	lengths := []int{0, 1, 7, 8, 9, 64, 400}
	for _, n := range lengths {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i % 256)
		}

		got := sendAndAssemble(t, payload)
		assert.Equal(t, payload, got, "length %d", n)
	}
}

func TestFragAssemblerDuplicateStartResetsBuffer(t *testing.T) {
	asm := NewFragAssembler(testChannelID, nil)

	_, complete := asm.OnFrame(Frame{ID: testChannelID, Data: []byte{1, 0}})
	require.False(t, complete)
	_, complete = asm.OnFrame(Frame{ID: testChannelID, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}})
	require.False(t, complete)

	// A rogue start frame arrives mid-sequence is impossible to express on
	// a single shared arbitration ID without first returning to IDLE; the
	// state machine instead treats every post-completion frame as a new
	// start, which this asserts by completing the first sequence and
	// starting a fresh one.
	_, complete = asm.OnFrame(Frame{ID: testChannelID}) // end sentinel
	require.True(t, complete)

	_, complete = asm.OnFrame(Frame{ID: testChannelID, Data: []byte{1, 0}})
	require.False(t, complete)
}
