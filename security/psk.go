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
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"

	"github.com/Masterminds/semver/v3"
)

// PSK is the libp2p private network key shared by all peers of one network.
type PSK []byte

func (s PSK) String() string {
	return fmt.Sprintf("%x", []byte(s))
}

const networkAnchor = -((int64(133129) << 16) + 51200)

func generateAnchoredEntropy() []byte {
	input := []byte(strconv.FormatInt(networkAnchor, 10))
	for i := 0; i < 10; i++ {
		sum := sha256.Sum256(input)
		input = sum[:]
	}
	return input
}

var (
	ErrPSKNetworkRequired = errors.New("psk: network required")
	ErrPSKVersionRequired = errors.New("psk: version required")
)

// GeneratePSK derives the network key from its name and the major version,
// so peers on incompatible protocol versions cannot talk to each other.
func GeneratePSK(network string, v *semver.Version) (PSK, error) {
	if network == "" {
		return nil, ErrPSKNetworkRequired
	}
	if v == nil {
		return nil, ErrPSKVersionRequired
	}
	seed := append([]byte(network), []byte(strconv.FormatUint(v.Major(), 10))...)
	seed = append(seed, generateAnchoredEntropy()...)
	sum := sha256.Sum256(seed)
	return sum[:], nil
}
