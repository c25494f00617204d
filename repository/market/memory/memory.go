package memory

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/btorressz/micro-batch-amm/domain"
)

type statsKey struct {
	userID  int
	batchID uint64
}

type marketRepo struct {
	market      *domain.MarketEntity
	orders      map[uint64]*domain.OrderEntity
	userOrders  map[int][]uint64
	stats       map[statsKey]*domain.UserBatchStatsEntity
	batchStates map[uint64]*domain.BatchStateEntity
	orderFills  map[uint64]*domain.OrderFillEntity
	lock        *sync.RWMutex
}

// CreateMarketRepo owns the single market aggregate and all records keyed
// off it. Reads return clones so callers never alias repo state.
func CreateMarketRepo() domain.MarketRepo {
	return &marketRepo{
		orders:      make(map[uint64]*domain.OrderEntity),
		userOrders:  make(map[int][]uint64),
		stats:       make(map[statsKey]*domain.UserBatchStatsEntity),
		batchStates: make(map[uint64]*domain.BatchStateEntity),
		orderFills:  make(map[uint64]*domain.OrderFillEntity),
		lock:        new(sync.RWMutex),
	}
}

func (m *marketRepo) CreateMarket(market *domain.MarketEntity) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.market != nil {
		return errors.New("market already created")
	}
	m.market = market.Clone()
	return nil
}

func (m *marketRepo) GetMarket() (*domain.MarketEntity, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	if m.market == nil {
		return nil, domain.ErrNoMarket
	}
	return m.market.Clone(), nil
}

func (m *marketRepo) UpdateMarket(market *domain.MarketEntity) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.market == nil {
		return domain.ErrNoMarket
	}
	m.market = market.Clone()
	return nil
}

func (m *marketRepo) CreateOrder(order *domain.OrderEntity) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.orders[order.ID]; ok {
		return errors.New("order id already exists")
	}
	m.orders[order.ID] = order.Clone()
	m.userOrders[order.UserID] = append(m.userOrders[order.UserID], order.ID)
	return nil
}

func (m *marketRepo) GetOrder(orderID uint64) (*domain.OrderEntity, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, domain.ErrNoOrder
	}
	return order.Clone(), nil
}

func (m *marketRepo) GetUserOrders(userID int) ([]*domain.OrderEntity, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	orderIDs, ok := m.userOrders[userID]
	if !ok {
		return nil, nil
	}
	orders := make([]*domain.OrderEntity, 0, len(orderIDs))
	for _, orderID := range orderIDs {
		orders = append(orders, m.orders[orderID].Clone())
	}
	return orders, nil
}

func (m *marketRepo) UpdateOrderStatus(orderID uint64, status domain.OrderStatusEnum) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return domain.ErrNoOrder
	}
	if order.Status.IsFinal() {
		return errors.New("order status already final")
	}
	order.Status = status
	return nil
}

func (m *marketRepo) OpenOrders(batchID uint64, afterOrderID uint64, limit int) ([]*domain.OrderEntity, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	orderIDs := make([]uint64, 0, len(m.orders))
	for orderID, order := range m.orders {
		if order.BatchID != batchID || order.Status != domain.OrderStatusOpen || orderID <= afterOrderID {
			continue
		}
		orderIDs = append(orderIDs, orderID)
	}
	sort.Slice(orderIDs, func(i, j int) bool { return orderIDs[i] < orderIDs[j] })
	if limit > 0 && len(orderIDs) > limit {
		orderIDs = orderIDs[:limit]
	}

	orders := make([]*domain.OrderEntity, 0, len(orderIDs))
	for _, orderID := range orderIDs {
		orders = append(orders, m.orders[orderID].Clone())
	}
	return orders, nil
}

func (m *marketRepo) GetUserBatchStats(userID int, batchID uint64) (*domain.UserBatchStatsEntity, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	stats, ok := m.stats[statsKey{userID: userID, batchID: batchID}]
	if !ok {
		// Logically fresh per batch: absent record means zero counters.
		return &domain.UserBatchStatsEntity{UserID: userID, BatchID: batchID}, nil
	}
	clone := *stats
	return &clone, nil
}

func (m *marketRepo) SaveUserBatchStats(stats *domain.UserBatchStatsEntity) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	clone := *stats
	m.stats[statsKey{userID: stats.UserID, batchID: stats.BatchID}] = &clone
	return nil
}

func (m *marketRepo) CreateBatchState(batchState *domain.BatchStateEntity) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.batchStates[batchState.BatchID]; ok {
		return errors.New("batch state already exists")
	}
	m.batchStates[batchState.BatchID] = batchState.Clone()
	return nil
}

func (m *marketRepo) GetBatchState(batchID uint64) (*domain.BatchStateEntity, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	batchState, ok := m.batchStates[batchID]
	if !ok {
		return nil, domain.ErrNoBatch
	}
	return batchState.Clone(), nil
}

func (m *marketRepo) UpdateBatchState(batchState *domain.BatchStateEntity) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	existing, ok := m.batchStates[batchState.BatchID]
	if !ok {
		return domain.ErrNoBatch
	}
	if existing.ClearingPriceFP != batchState.ClearingPriceFP {
		return errors.New("clearing price is immutable")
	}
	m.batchStates[batchState.BatchID] = batchState.Clone()
	return nil
}

func (m *marketRepo) SaveOrderFill(fill *domain.OrderFillEntity) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if existing, ok := m.orderFills[fill.OrderID]; ok && existing.Claimed {
		return domain.ErrAlreadyClaimed
	}
	clone := *fill
	m.orderFills[fill.OrderID] = &clone
	return nil
}

func (m *marketRepo) GetOrderFill(orderID uint64) (*domain.OrderFillEntity, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	fill, ok := m.orderFills[orderID]
	if !ok {
		return nil, domain.ErrNoFill
	}
	clone := *fill
	return &clone, nil
}
