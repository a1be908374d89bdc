package signature

import (
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/walletauth/core"
)

// EVMVerifier recovers the signer of an EIP-191 personal message
type EVMVerifier struct{}

func (*EVMVerifier) Family() core.WalletFamily { return core.FamilyEVM }

// Verify recovers the address that signed req.Message and compares it with
// req.Address, ignoring case.
func (*EVMVerifier) Verify(req Request) Result {
	if !common.IsHexAddress(req.Address) {
		return invalid("claimed address is not a hex address")
	}

	sigHex := req.Signature
	if !strings.HasPrefix(sigHex, "0x") && !strings.HasPrefix(sigHex, "0X") {
		sigHex = "0x" + sigHex
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return invalid("signature is not hex")
	}
	if len(sig) != crypto.SignatureLength {
		return invalid("signature must be 65 bytes", slog.Int("length", len(sig)))
	}

	// Wallets return V as 27/28, recovery expects 0/1
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return invalid("invalid recovery id")
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(req.Message)), sig)
	if err != nil {
		return invalid("public key recovery failed")
	}

	recovered := crypto.PubkeyToAddress(*pub)
	if !strings.EqualFold(recovered.Hex(), req.Address) {
		return invalid("recovered address mismatch", slog.String("recovered", recovered.Hex()))
	}

	return valid(slog.String("recovered", recovered.Hex()))
}
