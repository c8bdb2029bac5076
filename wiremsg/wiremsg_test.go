// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wiremsg

import (
	"testing"

	"github.com/quorumnet/core/blskey"
	"github.com/quorumnet/core/xorname"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	share, err := blskey.NewSecretShare()
	require.NoError(t, err)

	msg := Message{
		MsgID: NewMsgID(),
		Kind:  KindClient,
		Dst: Dst{
			Name:       xorname.FromContent([]byte("target")),
			SectionKey: share.Public(),
		},
		Payload: []byte(`{"hello":"world"}`),
	}

	data := Encode(msg)
	decoded, err := Decode(data)
	require.NoError(t, err)

	require.Equal(t, msg.MsgID, decoded.MsgID)
	require.Equal(t, msg.Kind, decoded.Kind)
	require.Equal(t, msg.Dst.Name, decoded.Dst.Name)
	require.True(t, msg.Dst.SectionKey.Equal(decoded.Dst.SectionKey))
	require.Equal(t, msg.Payload, decoded.Payload)
}

func TestDecodeRejectsShortMessage(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	share, err := blskey.NewSecretShare()
	require.NoError(t, err)
	msg := Message{
		MsgID:   NewMsgID(),
		Kind:    KindNode,
		Dst:     Dst{Name: xorname.FromContent([]byte("t")), SectionKey: share.Public()},
		Payload: []byte("payload"),
	}
	data := append(Encode(msg), 0xFF)
	_, err = Decode(data)
	require.Error(t, err)
}

func TestSignableBytesCoversPayloadAndID(t *testing.T) {
	id := NewMsgID()
	a := SignableBytes([]byte("payload"), id)
	b := SignableBytes([]byte("payload"), id)
	require.Equal(t, a, b)

	other := NewMsgID()
	c := SignableBytes([]byte("payload"), other)
	require.NotEqual(t, a, c)
}

func TestKindString(t *testing.T) {
	require.Equal(t, "Client", KindClient.String())
	require.Equal(t, "Node", KindNode.String())
	require.Equal(t, "Section", KindSection.String())
	require.Equal(t, "AntiEntropy", KindAntiEntropy.String())
}
