package chain

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

const defaultReason = "Transaction rejected."

// Reason extracts the most human-readable explanation available from a
// failed chain call.
func Reason(err error) string {
	if err == nil {
		return ""
	}

	var re *RevertError
	if errors.As(err, &re) && re.Reason != "" {
		return re.Reason
	}

	// revert data из JSON-RPC ошибки
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if r, uerr := abi.UnpackRevert(common.FromHex(s)); uerr == nil && r != "" {
				return r
			}
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Timed out waiting for the network."
	case errors.Is(err, ErrNoSigner):
		return "No wallet key configured."
	case errors.Is(err, ErrReverted):
		return "Transaction reverted."
	}

	msg := err.Error()
	const marker = "execution reverted: "
	if i := strings.LastIndex(msg, marker); i >= 0 {
		if r := strings.TrimSpace(msg[i+len(marker):]); r != "" {
			return r
		}
	}
	if strings.Contains(msg, "insufficient funds") {
		return "Insufficient funds for value + gas."
	}

	// самая внутренняя ошибка обычно самая понятная
	inner := err
	for {
		next := errors.Unwrap(inner)
		if next == nil {
			break
		}
		inner = next
	}
	if s := strings.TrimSpace(inner.Error()); s != "" {
		return s
	}
	return defaultReason
}
