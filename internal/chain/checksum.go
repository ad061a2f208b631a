package chain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

var ErrBadChecksum = errors.New("address checksum mismatch")

// ChecksumHex returns the EIP-55 form of a 20-byte hex address.
func ChecksumHex(addr string) (string, error) {
	a := strings.TrimSpace(addr)
	if a == "" {
		return "", fmt.Errorf("empty address")
	}
	a = strings.TrimPrefix(strings.TrimPrefix(a, "0x"), "0X")
	if len(a) != 40 {
		return "", fmt.Errorf("bad hex length: %d", len(a))
	}
	if _, err := hex.DecodeString(a); err != nil {
		return "", fmt.Errorf("not hex: %w", err)
	}

	lower := []byte(strings.ToLower(a))
	h := sha3.NewLegacyKeccak256()
	h.Write(lower)
	digest := h.Sum(nil)

	for i, ch := range lower {
		if ch < 'a' || ch > 'f' {
			continue
		}
		// i-й nibble хэша: старший для чётных позиций, младший для нечётных
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			lower[i] = ch - ('a' - 'A')
		}
	}
	return "0x" + string(lower), nil
}

// ValidateChecksum parses addr. All-lower or all-upper input is accepted as
// is; mixed case must match EIP-55 exactly.
func ValidateChecksum(addr string) (common.Address, error) {
	want, err := ChecksumHex(addr)
	if err != nil {
		return common.Address{}, err
	}
	body := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(addr), "0x"), "0X")
	mixed := strings.ToLower(body) != body && strings.ToUpper(body) != body
	if mixed && body != want[2:] {
		return common.Address{}, fmt.Errorf("%w: got 0x%s, want %s", ErrBadChecksum, body, want)
	}
	return common.HexToAddress(want), nil
}
