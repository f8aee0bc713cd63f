/*

Warpvote - Decentralized Content Validation
Copyright (C) 2025 Vadim Filin, https://github.com/Warp-net,
<github.com.mecdy@passmail.net>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.

Warpvote is provided “as is” without warranty of any kind, either expressed or implied.
Use at your own risk. The maintainers shall not be liable for any damages or data loss
resulting from the use or misuse of this software.
*/

// Copyright 2025 Vadim Filin
// SPDX-License-Identifier: AGPL-3.0-or-later

package warpnet

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeerAddress(t *testing.T) {
	key, err := GenerateRandomKey()
	require.NoError(t, err)
	id, err := peerIDFromKey(key)
	require.NoError(t, err)

	addr, err := ParsePeerAddress(" /ip4/127.0.0.1/tcp/9000 ", id)
	require.NoError(t, err)
	assert.Equal(t, "/ip4/127.0.0.1/tcp/9000", addr.Addr)
	assert.Equal(t, id, addr.PeerID)
	assert.Equal(t, "/ip4/127.0.0.1/tcp/9000/p2p/"+id, addr.String())

	addr, err = ParsePeerAddress("/ip4/127.0.0.1/tcp/9000/p2p/"+id, id)
	require.NoError(t, err)
	assert.Equal(t, "/ip4/127.0.0.1/tcp/9000", addr.Addr)
	assert.Equal(t, id, EmbeddedPeerID("/ip4/127.0.0.1/tcp/9000/p2p/"+id))
	assert.Empty(t, EmbeddedPeerID("/ip4/127.0.0.1/tcp/9000"))
	assert.Empty(t, EmbeddedPeerID("not an address"))

	other, err := GenerateRandomKey()
	require.NoError(t, err)
	otherID, err := peerIDFromKey(other)
	require.NoError(t, err)

	_, err = ParsePeerAddress("/ip4/127.0.0.1/tcp/9000/p2p/"+otherID, id)
	assert.Error(t, err)
	_, err = ParsePeerAddress("localhost:9000", id)
	assert.Error(t, err)
	_, err = ParsePeerAddress("/ip4/127.0.0.1/tcp/9000", "nope")
	assert.Error(t, err)
	assert.Empty(t, FromStringToPeerID("nope"))

	info, err := AddrInfoFromPeerAddress(addr)
	require.NoError(t, err)
	assert.Equal(t, id, info.ID.String())
	assert.Len(t, info.Addrs, 1)
}

func peerIDFromKey(key WarpPrivateKey) (string, error) {
	id, err := peer.IDFromPrivateKey(key)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
