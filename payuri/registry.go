package payuri

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	ethcommon "github.com/ethereum/go-ethereum/common"
)

// ErrUnsupportedChain is returned when no token precision is configured for
// the requested chain/token pair. Surfaced to callers as a configuration gap,
// never retried.
var ErrUnsupportedChain = errors.New("unsupported chain or token")

// Token describes a receivable asset on a specific chain. Decimals determines
// the smallest-unit scaling of amounts encoded on-chain and must match the
// deployed contract.
type Token struct {
	Symbol   string `toml:"symbol"`
	Contract string `toml:"contract"`
	Decimals int32  `toml:"decimals"`
}

// Chain groups the tokens receivable on one network.
type Chain struct {
	ID     uint64  `toml:"id"`
	Name   string  `toml:"name"`
	Tokens []Token `toml:"token"`
}

// Registry maps chain id and token symbol to transfer parameters.
type Registry struct {
	chains map[uint64]Chain
	tokens map[uint64]map[string]Token
}

// NewRegistry builds a registry from the supplied chains. Token symbols are
// matched case-insensitively.
func NewRegistry(chains ...Chain) (*Registry, error) {
	r := &Registry{
		chains: make(map[uint64]Chain, len(chains)),
		tokens: make(map[uint64]map[string]Token, len(chains)),
	}
	for _, chain := range chains {
		if chain.ID == 0 {
			return nil, fmt.Errorf("chain %q: id is required", chain.Name)
		}
		if _, dup := r.chains[chain.ID]; dup {
			return nil, fmt.Errorf("chain %d declared twice", chain.ID)
		}
		symbols := make(map[string]Token, len(chain.Tokens))
		for _, tok := range chain.Tokens {
			symbol := strings.ToUpper(strings.TrimSpace(tok.Symbol))
			if symbol == "" {
				return nil, fmt.Errorf("chain %d: token symbol is required", chain.ID)
			}
			if !ethcommon.IsHexAddress(tok.Contract) {
				return nil, fmt.Errorf("chain %d token %s: invalid contract address %q", chain.ID, symbol, tok.Contract)
			}
			if tok.Decimals < 0 {
				return nil, fmt.Errorf("chain %d token %s: negative decimals", chain.ID, symbol)
			}
			tok.Symbol = symbol
			symbols[symbol] = tok
		}
		r.chains[chain.ID] = chain
		r.tokens[chain.ID] = symbols
	}
	return r, nil
}

// LoadRegistry reads a TOML registry file:
//
//	[[chain]]
//	id = 1135
//	name = "lisk"
//
//	  [[chain.token]]
//	  symbol = "USDT"
//	  contract = "0x05D032ac25d322df992303dCa074EE7392C117b9"
//	  decimals = 6
func LoadRegistry(path string) (*Registry, error) {
	var file struct {
		Chains []Chain `toml:"chain"`
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("decode token registry %s: %w", path, err)
	}
	if len(file.Chains) == 0 {
		return nil, fmt.Errorf("token registry %s declares no chains", path)
	}
	return NewRegistry(file.Chains...)
}

// DefaultRegistry covers the networks the gateway ships with. Deployments
// with other chains supply a registry file instead.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		Chain{
			ID:   1,
			Name: "ethereum",
			Tokens: []Token{
				{Symbol: "USDT", Contract: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
				{Symbol: "USDC", Contract: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
			},
		},
		Chain{
			ID:   1135,
			Name: "lisk",
			Tokens: []Token{
				{Symbol: "USDT", Contract: "0x05D032ac25d322df992303dCa074EE7392C117b9", Decimals: 6},
				{Symbol: "USDC", Contract: "0xF242275d3a6527d877f2c927a82D9b057609cc71", Decimals: 6},
				{Symbol: "LSK", Contract: "0xac485391EB2d7D88253a7F1eF18C37f4242D1A24", Decimals: 18},
			},
		},
	)
	if err != nil {
		panic(err)
	}
	return r
}

// Token resolves the transfer parameters for a chain/token pair.
func (r *Registry) Token(chainID uint64, symbol string) (Token, error) {
	symbols, ok := r.tokens[chainID]
	if !ok {
		return Token{}, fmt.Errorf("%w: chain %d", ErrUnsupportedChain, chainID)
	}
	tok, ok := symbols[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Token{}, fmt.Errorf("%w: token %s on chain %d", ErrUnsupportedChain, symbol, chainID)
	}
	return tok, nil
}

// Precision reports the smallest-unit decimal precision declared for the
// chain/token pair.
func (r *Registry) Precision(chainID uint64, symbol string) (int32, error) {
	tok, err := r.Token(chainID, symbol)
	if err != nil {
		return 0, err
	}
	return tok.Decimals, nil
}

// ChainName returns the configured display name for a chain, or empty when
// the chain is unknown.
func (r *Registry) ChainName(chainID uint64) string {
	return r.chains[chainID].Name
}
