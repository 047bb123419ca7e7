package escrow

import (
	"errors"
	"fmt"

	"github.com/docsafe/docsafe/cryptoutils"
	"github.com/docsafe/docsafe/interfaces"
	"github.com/hashicorp/vault/shamir"
)

// RecoveryKit splits an escrow recovery key among administrators using
// Shamir's Secret Sharing. The recovery key is the private half of the
// escrow key pair; it never exists whole on any single machine outside a
// recovery ceremony. Splitting happens at provisioning time, combining
// only when a threshold of administrators submit their shares.
type RecoveryKit struct {
	// Threshold is the minimum number of shares required to
	// reconstruct the recovery key.
	Threshold int

	// TotalShares is the number of shares to produce.
	TotalShares int
}

// Split divides the recovery key into TotalShares shares, any Threshold
// of which reconstruct it. The caller must erase the original key after
// distributing the shares.
func (k RecoveryKit) Split(recoveryKey []byte) ([][]byte, error) {
	if len(recoveryKey) < 32 {
		return nil, fmt.Errorf("%w: recovery key must be at least 32 bytes", interfaces.ErrInvalidKeyMaterial)
	}
	if k.Threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if k.TotalShares < k.Threshold {
		return nil, errors.New("total shares must be at least equal to threshold")
	}

	shares, err := shamir.Split(recoveryKey, k.TotalShares, k.Threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split recovery key: %w", err)
	}
	return shares, nil
}

// Combine reconstructs the recovery key from administrator shares. The
// returned key is owned by the caller, who must zero it after use.
func (k RecoveryKit) Combine(shares [][]byte) ([]byte, error) {
	if len(shares) < k.Threshold {
		return nil, fmt.Errorf("need at least %d shares, have %d", k.Threshold, len(shares))
	}

	recoveryKey, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("failed to combine shares: %w", err)
	}
	return recoveryKey, nil
}

// ZeroShares erases share material after distribution.
func ZeroShares(shares [][]byte) {
	for _, share := range shares {
		cryptoutils.Zero(share)
	}
}
