package canbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendPayloadEmitsStartDataEndInOrder(t *testing.T) {
	a, b := NewLoopbackPair()
	defer a.Close()

	link := NewCanLink(a)
	require.NoError(t, link.SendPayload(testChannelID, "test", []byte("0123456789")))

	start, ok, err := b.Recv(0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testChannelID, start.ID)
	assert.Len(t, start.Data, 2)
	assert.Equal(t, uint16(2), uint16(start.Data[0])|uint16(start.Data[1])<<8)

	d1, _, _ := b.Recv(0)
	assert.Equal(t, []byte("01234567"), d1.Data)
	d2, _, _ := b.Recv(0)
	assert.Equal(t, []byte("89"), d2.Data)

	end, _, _ := b.Recv(0)
	assert.Empty(t, end.Data)
}
