package canbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testLtkPubID = 0x18FF0001
	testLtkSigID = 0x18FF0002
	testStkID    = 0x18FF0003
)

func TestLtkReassemblerDeliversOnSigComplete(t *testing.T) {
	a, b := NewLoopbackPair()
	defer a.Close()

	link := NewCanLink(a)
	pub := []byte("wrapped-ltk-public-blob")
	sig := []byte("detached-signature-bytes")

	require.NoError(t, link.SendPayload(testLtkPubID, "ltk_pub", pub))
	require.NoError(t, link.SendPayload(testLtkSigID, "ltk_sig", sig))

	r := NewLtkReassembler(testLtkPubID, testLtkSigID, nil)
	var gotPub, gotSig []byte
	for gotPub == nil || gotSig == nil {
		frame, ok, err := b.Recv(0)
		require.NoError(t, err)
		require.True(t, ok)

		p, s, complete := r.OnFrame(frame)
		if complete {
			gotPub, gotSig = p, s
		}
	}

	assert.Equal(t, pub, gotPub)
	assert.Equal(t, sig, gotSig)
}

func TestLtkReassemblerOverwritesPendingPubBeforeSig(t *testing.T) {
	r := NewLtkReassembler(testLtkPubID, testLtkSigID, nil)

	sendFragment(r, testLtkPubID, []byte("stale-pub"))
	sendFragment(r, testLtkPubID, []byte("fresh-pub"))

	pub, _, complete := sendFragment(r, testLtkSigID, []byte("sig"))
	require.True(t, complete)
	assert.Equal(t, []byte("fresh-pub"), pub)
}

func sendFragment(r *LtkReassembler, channelID uint32, payload []byte) (pub, sig []byte, complete bool) {
	a, b := NewLoopbackPair()
	defer a.Close()
	link := NewCanLink(a)
	_ = link.SendPayload(channelID, "test", payload)

	for {
		frame, ok, _ := b.Recv(0)
		if !ok {
			return nil, nil, false
		}
		p, s, c := r.OnFrame(frame)
		if c {
			return p, s, true
		}
		if frame.ID == channelID && len(frame.Data) == 0 {
			return nil, nil, false
		}
	}
}

func TestStkReassemblerRoundTrip(t *testing.T) {
	a, b := NewLoopbackPair()
	defer a.Close()

	link := NewCanLink(a)
	envelope := []byte("stk-envelope-bytes-0123456789")
	require.NoError(t, link.SendPayload(testStkID, "stk", envelope))

	r := NewStkReassembler(testStkID, nil)
	var got []byte
	for got == nil {
		frame, ok, err := b.Recv(0)
		require.NoError(t, err)
		require.True(t, ok)
		if out, complete := r.OnFrame(frame); complete {
			got = out
		}
	}
	assert.Equal(t, envelope, got)
}
