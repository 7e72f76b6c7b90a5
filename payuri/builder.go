// Package payuri renders payment requests as EIP-681 transfer URIs for code
// rendering. The URI fixes the token contract, chain, destination wallet and
// the exact smallest-unit amount the payer must send.
package payuri

import (
	"errors"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ErrUnresolvedDestination is returned when the destination wallet is missing
// or malformed. Wallet resolution happens at request creation; this guards
// against rendering a transfer with nowhere to send funds.
var ErrUnresolvedDestination = errors.New("destination wallet unresolved")

// Builder formats chain-aware transfer requests against a token registry.
type Builder struct {
	registry *Registry
}

// NewBuilder constructs a Builder. The registry is required.
func NewBuilder(registry *Registry) *Builder {
	if registry == nil {
		panic("payuri: registry required")
	}
	return &Builder{registry: registry}
}

// Build renders ethereum:<contract>@<chain>/transfer?address=<dest>&uint256=<scaled>.
// The amount conversion is exact integer scaling; any rounding here would
// change what the payer sends and break amount-based attribution.
func (b *Builder) Build(chainID uint64, tokenSymbol, destination string, amount decimal.Decimal) (string, error) {
	tok, err := b.registry.Token(chainID, tokenSymbol)
	if err != nil {
		return "", err
	}
	if destination == "" {
		return "", ErrUnresolvedDestination
	}
	if !ethcommon.IsHexAddress(destination) {
		return "", fmt.Errorf("%w: %q is not a valid address", ErrUnresolvedDestination, destination)
	}
	scaled, err := ScaleToUnits(amount, tok.Decimals)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ethereum:%s@%d/transfer?address=%s&uint256=%s", tok.Contract, chainID, destination, scaled), nil
}

// Precision resolves the smallest-unit decimal precision for a chain/token
// pair, ErrUnsupportedChain when the pair is not configured.
func (b *Builder) Precision(chainID uint64, symbol string) (int32, error) {
	return b.registry.Precision(chainID, symbol)
}

// ChainName reports the registry's display name for a chain, or empty when
// the chain is unknown.
func (b *Builder) ChainName(chainID uint64) string {
	return b.registry.ChainName(chainID)
}

// ScaleToUnits converts a decimal amount to the token's smallest integer
// unit. Fails when the amount carries more fractional digits than the token
// resolves, instead of silently truncating the disambiguation suffix.
func ScaleToUnits(amount decimal.Decimal, decimals int32) (string, error) {
	shifted := amount.Shift(decimals)
	if !shifted.IsInteger() {
		return "", fmt.Errorf("amount %s does not scale to an integer at %d decimals", amount, decimals)
	}
	return shifted.BigInt().String(), nil
}
