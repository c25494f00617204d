package domain

import (
	"context"

	"github.com/google/uuid"
)

// LedgerRepo is the external custodial collaborator. Transfers are atomic
// with respect to the enclosing operation: a failed transfer aborts the whole
// state transition, and a batch applies all entries or none.
type LedgerRepo interface {
	// Deposit moves amountFP of assetID from the user's account into a vault,
	// escrowing it.
	Deposit(ctx context.Context, userID int, assetID, vaultID uuid.UUID, amountFP uint64) (*LedgerReceipt, error)
	// TransferOut pays amountFP of assetID from a vault back to the user.
	TransferOut(ctx context.Context, vaultID uuid.UUID, userID int, assetID uuid.UUID, amountFP uint64) (*LedgerReceipt, error)
	// TransferOutBatch applies every payout or none.
	TransferOutBatch(ctx context.Context, transfers []*LedgerTransfer) ([]*LedgerReceipt, error)

	GetBalance(userID int, assetID uuid.UUID) (uint64, error)
	GetVaultBalance(vaultID uuid.UUID) (uint64, error)

	// Fund credits a user account directly. Bootstrap/faucet helper; real
	// custodial inflows are out of scope.
	Fund(userID int, assetID uuid.UUID, amountFP uint64)
}

type LedgerTransfer struct {
	VaultID  uuid.UUID
	UserID   int
	AssetID  uuid.UUID
	AmountFP uint64
}

type LedgerReceipt struct {
	ID       uuid.UUID
	VaultID  uuid.UUID
	UserID   int
	AssetID  uuid.UUID
	AmountFP uint64
}

// Clock is the monotonic slot source. Never wall-clock; read once per call.
type Clock interface {
	Now() uint64
}
