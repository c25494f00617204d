package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/btorressz/micro-batch-amm/domain"
)

type accountKey struct {
	userID  int
	assetID uuid.UUID
}

type ledgerRepo struct {
	accountBalances map[accountKey]uint64
	vaultBalances   map[uuid.UUID]uint64
	vaultAssets     map[uuid.UUID]uuid.UUID
	lock            *sync.Mutex
}

// CreateLedgerRepo is the in-memory custodial collaborator: user accounts
// and vaults with atomic moves between them.
func CreateLedgerRepo() domain.LedgerRepo {
	return &ledgerRepo{
		accountBalances: make(map[accountKey]uint64),
		vaultBalances:   make(map[uuid.UUID]uint64),
		vaultAssets:     make(map[uuid.UUID]uuid.UUID),
		lock:            new(sync.Mutex),
	}
}

// Fund credits a user account directly, outside any vault. Test and
// bootstrap helper; the core only moves funds between accounts and vaults.
func (l *ledgerRepo) Fund(userID int, assetID uuid.UUID, amountFP uint64) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.accountBalances[accountKey{userID: userID, assetID: assetID}] += amountFP
}

func (l *ledgerRepo) Deposit(ctx context.Context, userID int, assetID, vaultID uuid.UUID, amountFP uint64) (*domain.LedgerReceipt, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	key := accountKey{userID: userID, assetID: assetID}
	if l.accountBalances[key] < amountFP {
		return nil, errors.Wrap(domain.ErrLessAmount, "deposit exceeds account balance")
	}
	if existing, ok := l.vaultAssets[vaultID]; ok && existing != assetID {
		return nil, errors.New("vault asset mismatch")
	}
	l.vaultAssets[vaultID] = assetID
	l.accountBalances[key] -= amountFP
	l.vaultBalances[vaultID] += amountFP

	return &domain.LedgerReceipt{
		ID:       uuid.New(),
		VaultID:  vaultID,
		UserID:   userID,
		AssetID:  assetID,
		AmountFP: amountFP,
	}, nil
}

func (l *ledgerRepo) TransferOut(ctx context.Context, vaultID uuid.UUID, userID int, assetID uuid.UUID, amountFP uint64) (*domain.LedgerReceipt, error) {
	receipts, err := l.TransferOutBatch(ctx, []*domain.LedgerTransfer{{
		VaultID:  vaultID,
		UserID:   userID,
		AssetID:  assetID,
		AmountFP: amountFP,
	}})
	if err != nil {
		return nil, errors.Wrap(err, "transfer out batch failed")
	}
	return receipts[0], nil
}

func (l *ledgerRepo) TransferOutBatch(ctx context.Context, transfers []*domain.LedgerTransfer) ([]*domain.LedgerReceipt, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	// Validate every entry before mutating so the batch applies all or none.
	needed := make(map[uuid.UUID]uint64)
	for _, transfer := range transfers {
		if existing, ok := l.vaultAssets[transfer.VaultID]; ok && existing != transfer.AssetID {
			return nil, errors.New("vault asset mismatch")
		}
		needed[transfer.VaultID] += transfer.AmountFP
	}
	for vaultID, amount := range needed {
		if l.vaultBalances[vaultID] < amount {
			return nil, errors.Wrap(domain.ErrLessAmount, "transfer exceeds vault balance")
		}
	}

	receipts := make([]*domain.LedgerReceipt, 0, len(transfers))
	for _, transfer := range transfers {
		l.vaultBalances[transfer.VaultID] -= transfer.AmountFP
		l.accountBalances[accountKey{userID: transfer.UserID, assetID: transfer.AssetID}] += transfer.AmountFP
		receipts = append(receipts, &domain.LedgerReceipt{
			ID:       uuid.New(),
			VaultID:  transfer.VaultID,
			UserID:   transfer.UserID,
			AssetID:  transfer.AssetID,
			AmountFP: transfer.AmountFP,
		})
	}
	return receipts, nil
}

func (l *ledgerRepo) GetBalance(userID int, assetID uuid.UUID) (uint64, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.accountBalances[accountKey{userID: userID, assetID: assetID}], nil
}

func (l *ledgerRepo) GetVaultBalance(vaultID uuid.UUID) (uint64, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.vaultBalances[vaultID], nil
}
