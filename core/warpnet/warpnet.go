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
	"strings"

	"github.com/Warp-net/warpvote/domain"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	p2pCrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/multiformats/go-multiaddr"
)

const (
	WarpnetName = "warpvote"
	NoiseID     = noise.ID

	ErrNodeIsOffline           = WarpError("node is offline")
	ErrTopicAlreadyExists      = WarpError("topic already exists")
	ErrContentAlreadySubmitted = WarpError("content already submitted")
	ErrVotationNotFound        = WarpError("votation not found")
)

type WarpError string

func (e WarpError) Error() string {
	return string(e)
}

type (
	WarpPrivateKey = p2pCrypto.PrivKey

	// aliases
	WarpMessage  = pubsub.Message
	WarpAddrInfo = peer.AddrInfo
	WarpPeerID   = peer.ID
	P2PNode      = host.Host
)

func NewP2PNode(opts ...libp2p.Option) (P2PNode, error) {
	return libp2p.New(opts...)
}

// Security and transport constructors handed to libp2p fx wiring.
var (
	NewNoise        = noise.New
	NewTCPTransport = tcp.NewTCPTransport
)

func NewMultiaddr(s string) (a multiaddr.Multiaddr, err error) {
	return multiaddr.NewMultiaddr(s)
}

func FromStringToPeerID(s string) WarpPeerID {
	peerID, err := peer.Decode(s)
	if err != nil {
		return ""
	}
	return peerID
}

func PrivKeyFromEd25519(raw []byte) (WarpPrivateKey, error) {
	return p2pCrypto.UnmarshalEd25519PrivateKey(raw)
}

func GenerateRandomKey() (WarpPrivateKey, error) {
	privKey, _, err := p2pCrypto.GenerateEd25519Key(nil)
	return privKey, err
}

// ParsePeerAddress validates the bootstrap locator and the peer id encoding.
// A trailing /p2p/<id> component is accepted when it matches peerID.
func ParsePeerAddress(serverAddress, peerID string) (domain.PeerAddress, error) {
	serverAddress = strings.TrimSpace(serverAddress)
	peerID = strings.TrimSpace(peerID)

	maddr, err := multiaddr.NewMultiaddr(serverAddress)
	if err != nil {
		return domain.PeerAddress{}, WarpError("invalid server address: " + err.Error())
	}
	id, err := peer.Decode(peerID)
	if err != nil {
		return domain.PeerAddress{}, WarpError("invalid peer id: " + err.Error())
	}

	transportAddr, embeddedID := peer.SplitAddr(maddr)
	if transportAddr == nil || transportAddr.String() == "" {
		return domain.PeerAddress{}, WarpError("invalid server address: no transport component")
	}
	if embeddedID != "" && embeddedID != id {
		return domain.PeerAddress{}, WarpError("server address peer id mismatch")
	}
	return domain.PeerAddress{Addr: transportAddr.String(), PeerID: id.String()}, nil
}

// EmbeddedPeerID returns the /p2p/<id> component of address, if any.
func EmbeddedPeerID(address string) string {
	maddr, err := multiaddr.NewMultiaddr(strings.TrimSpace(address))
	if err != nil {
		return ""
	}
	_, id := peer.SplitAddr(maddr)
	if id == "" {
		return ""
	}
	return id.String()
}

func AddrInfoFromPeerAddress(pa domain.PeerAddress) (WarpAddrInfo, error) {
	maddr, err := multiaddr.NewMultiaddr(pa.Addr)
	if err != nil {
		return WarpAddrInfo{}, err
	}
	id, err := peer.Decode(pa.PeerID)
	if err != nil {
		return WarpAddrInfo{}, err
	}
	return WarpAddrInfo{ID: id, Addrs: []multiaddr.Multiaddr{maddr}}, nil
}
