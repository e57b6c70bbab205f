package spacemarket

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SignatureDomain identifies the verifying context every intent digest is
// bound to. Both counterparties and the settlement engine must use the same
// domain or cross-verification fails.
type SignatureDomain struct {
	// Name is the protocol name (e.g. "SpaceMarket").
	Name string

	// Version is the protocol version string (e.g. "1").
	Version string

	// ChainID is the settlement network identity.
	ChainID *big.Int

	// VerifyingContract is the settlement engine's address on that network.
	VerifyingContract common.Address
}

// Validate ensures the domain is fully specified.
func (d SignatureDomain) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("domain name cannot be empty")
	}
	if d.Version == "" {
		return fmt.Errorf("domain version cannot be empty")
	}
	if d.ChainID == nil || d.ChainID.Sign() <= 0 {
		return fmt.Errorf("domain chain id must be positive, got %v", d.ChainID)
	}
	if d.VerifyingContract == (common.Address{}) {
		return fmt.Errorf("domain verifying contract cannot be zero")
	}
	return nil
}
