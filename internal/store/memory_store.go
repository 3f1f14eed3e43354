package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"deposit-service/internal/models"
)

type metaKey struct {
	id  int64
	key string
}

// MemoryStore implements OrderStore, CatalogStore, EventLog and settings.Source in memory.
// Used by tests and by the CLI when no database is configured.
type MemoryStore struct {
	mu sync.RWMutex

	products     map[int64]*models.Product
	productMeta  map[metaKey]string
	categories   map[int64][]int64 // productID -> category ids in assignment order
	categoryMeta map[metaKey]string
	settings     map[string]string

	orders  map[int64]*models.Order
	notes   map[int64][]models.OrderNote
	refunds map[int64][]models.Refund
	events  map[string]string

	nextOrderID int64
	nextLineID  int64
	nextNoteID  int64
	nextRefund  int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     make(map[int64]*models.Product),
		productMeta:  make(map[metaKey]string),
		categories:   make(map[int64][]int64),
		categoryMeta: make(map[metaKey]string),
		settings:     make(map[string]string),
		orders:       make(map[int64]*models.Order),
		notes:        make(map[int64][]models.OrderNote),
		refunds:      make(map[int64][]models.Refund),
		events:       make(map[string]string),
	}
}

// AddProduct registers a product; a zero ID is assigned sequentially
func (s *MemoryStore) AddProduct(p models.Product) *models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == 0 {
		p.ID = int64(len(s.products) + 1)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.products[p.ID] = &p
	return &p
}

// AssignCategories replaces the categories of a product
func (s *MemoryStore) AssignCategories(productID int64, categoryIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[productID] = append([]int64(nil), categoryIDs...)
}

func (s *MemoryStore) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrProductNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetProductMeta(ctx context.Context, productID int64, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.productMeta[metaKey{productID, key}], nil
}

func (s *MemoryStore) SetProductMeta(ctx context.Context, productID int64, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.productMeta[metaKey{productID, key}] = value
	return nil
}

func (s *MemoryStore) GetProductCategoryIDs(ctx context.Context, productID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int64(nil), s.categories[productID]...), nil
}

func (s *MemoryStore) GetCategoryMeta(ctx context.Context, categoryID int64, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.categoryMeta[metaKey{categoryID, key}], nil
}

func (s *MemoryStore) SetCategoryMeta(ctx context.Context, categoryID int64, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categoryMeta[metaKey{categoryID, key}] = value
	return nil
}

func (s *MemoryStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *MemoryStore) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *MemoryStore) CreateOrder(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(order)
	return nil
}

func (s *MemoryStore) insertLocked(order *models.Order) {
	s.nextOrderID++
	order.ID = s.nextOrderID
	now := time.Now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	for i := range order.Lines {
		s.nextLineID++
		order.Lines[i].ID = s.nextLineID
		order.Lines[i].OrderID = order.ID
	}

	s.orders[order.ID] = cloneOrder(order)
}

func (s *MemoryStore) CreateBalanceOrder(ctx context.Context, parent, balance *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.orders[parent.ID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, parent.ID)
	}
	if p.BalanceOrderID > 0 {
		return fmt.Errorf("%w: order %d has balance order %d", ErrAlreadyLinked, parent.ID, p.BalanceOrderID)
	}

	s.insertLocked(balance)
	p.BalanceOrderID = balance.ID
	p.HasDeposit = parent.HasDeposit
	p.DepositAmount = parent.DepositAmount
	p.RemainingAmount = parent.RemainingAmount
	p.BalanceDueDate = parent.BalanceDueDate
	p.UpdatedAt = time.Now()
	parent.BalanceOrderID = balance.ID
	return nil
}

func (s *MemoryStore) ClaimReceipt(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if o.ReceiptSent {
		return false, nil
	}
	o.ReceiptSent = true
	o.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) SaveDepositMeta(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[order.ID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, order.ID)
	}
	o.IsBalanceOrder = order.IsBalanceOrder
	o.DepositParentOrderID = order.DepositParentOrderID
	o.BalanceOrderID = order.BalanceOrderID
	o.HasDeposit = order.HasDeposit
	o.DepositAmount = order.DepositAmount
	o.RemainingAmount = order.RemainingAmount
	o.BalanceDueDate = order.BalanceDueDate
	o.Total = order.Total
	o.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) UpdateOrderStatus(ctx context.Context, id int64, status, note string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	old := o.Status
	o.Status = status
	o.UpdatedAt = time.Now()
	if note != "" {
		s.addNoteLocked(id, note)
	}
	return old, nil
}

func (s *MemoryStore) AddOrderNote(ctx context.Context, id int64, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[id]; !ok {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	s.addNoteLocked(id, note)
	return nil
}

func (s *MemoryStore) addNoteLocked(id int64, note string) {
	s.nextNoteID++
	s.notes[id] = append(s.notes[id], models.OrderNote{
		ID:        s.nextNoteID,
		OrderID:   id,
		Note:      note,
		CreatedAt: time.Now(),
	})
}

func (s *MemoryStore) GetOrderNotes(ctx context.Context, id int64) ([]models.OrderNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.OrderNote(nil), s.notes[id]...), nil
}

func (s *MemoryStore) FindBalanceOrders(ctx context.Context, q BalanceOrderQuery) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make(map[string]bool, len(q.Statuses))
	for _, st := range q.Statuses {
		statuses[st] = true
	}

	var result []models.Order
	for _, o := range s.orders {
		if !o.IsBalanceOrder {
			continue
		}
		if len(statuses) > 0 && !statuses[o.Status] {
			continue
		}
		if q.DueOnOrBefore > 0 && (o.BalanceDueDate <= 0 || o.BalanceDueDate > q.DueOnOrBefore) {
			continue
		}
		cp := *o
		cp.Lines = nil
		result = append(result, cp)
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if q.NewestFirst {
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.ID > b.ID
		}
		if a.BalanceDueDate != b.BalanceDueDate {
			return a.BalanceDueDate < b.BalanceDueDate
		}
		return a.ID < b.ID
	})

	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (s *MemoryStore) CreateRefund(ctx context.Context, refund *models.Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[refund.OrderID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, refund.OrderID)
	}
	s.nextRefund++
	refund.ID = s.nextRefund
	refund.CreatedAt = time.Now()
	s.refunds[refund.OrderID] = append(s.refunds[refund.OrderID], *refund)
	o.TotalRefunded = o.TotalRefunded.Add(refund.Amount)
	return nil
}

// Refunds returns the refunds recorded for an order
func (s *MemoryStore) Refunds(orderID int64) []models.Refund {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Refund(nil), s.refunds[orderID]...)
}

func (s *MemoryStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.events[eventID]
	return ok, nil
}

func (s *MemoryStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[eventID] = eventType
	return nil
}

func cloneOrder(o *models.Order) *models.Order {
	cp := *o
	cp.Lines = make([]models.OrderLine, len(o.Lines))
	for i, line := range o.Lines {
		if line.Meta != nil {
			meta := make(models.LineMeta, len(line.Meta))
			for k, v := range line.Meta {
				meta[k] = v
			}
			line.Meta = meta
		}
		cp.Lines[i] = line
	}
	return &cp
}
