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

package security

import (
	"bytes"
	go_crypto "crypto"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/crypto/pb"
	"github.com/libp2p/go-libp2p/core/peer"
)

var (
	ErrEmptySeed        = errors.New("empty seed")
	ErrInvalidSignature = errors.New("invalid signature")
)

type PrivateKey crypto.PrivKey

// GenerateKeyFromSeed derives a stable ed25519 identity so a node keeps its peer id across restarts.
func GenerateKeyFromSeed(seed []byte) (ed25519.PrivateKey, error) {
	if len(seed) == 0 {
		return nil, ErrEmptySeed
	}
	hashAlgo := go_crypto.SHA256
	keyType := pb.KeyType_Ed25519
	material := make([]byte, 0, len(seed)+2)
	material = append(material, seed...)
	material = append(material, uint8(hashAlgo), uint8(keyType))
	hash := sha256.Sum256(material)
	privKey, _, err := crypto.GenerateEd25519Key(bytes.NewReader(hash[:]))
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	return privKey.Raw()
}

func Sign(key PrivateKey, data []byte) (string, error) {
	if key == nil {
		return "", errors.New("sign: nil key")
	}
	sig, err := key.Sign(data)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyPeerSignature checks sig against the public key embedded in the signer's peer id.
func VerifyPeerSignature(signer string, data []byte, sig string) error {
	id, err := peer.Decode(signer)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	pub, err := id.ExtractPublicKey()
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return ErrInvalidSignature
	}
	ok, err := pub.Verify(data, raw)
	if err != nil || !ok {
		return ErrInvalidSignature
	}
	return nil
}
