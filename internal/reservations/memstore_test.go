package reservations

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/internal/bookings"
	"github.com/angelmondragon/eventpass-backend/internal/inventory"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox"
)

// memStore is an in-memory row store with the same conditional write
// contract as the gorm repositories. Transactions are serialized and roll
// back on error; reads outside a transaction interleave freely with them.
type memStore struct {
	txMu sync.Mutex

	mu        sync.Mutex
	tiers     map[uuid.UUID]models.TicketTier
	movements map[string]models.InventoryMovement
	bookings  map[uuid.UUID]models.Booking
	events    int
}

var (
	_ inventory.Repository = memInventory{}
	_ bookings.Repository  = (*memBookings)(nil)
)

func newMemStore(tiers ...models.TicketTier) *memStore {
	s := &memStore{
		tiers:     map[uuid.UUID]models.TicketTier{},
		movements: map[string]models.InventoryMovement{},
		bookings:  map[uuid.UUID]models.Booking{},
	}
	for _, tier := range tiers {
		s.tiers[tier.ID] = tier
	}
	return s
}

func (s *memStore) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	tiers := make(map[uuid.UUID]models.TicketTier, len(s.tiers))
	for k, v := range s.tiers {
		tiers[k] = v
	}
	movements := make(map[string]models.InventoryMovement, len(s.movements))
	for k, v := range s.movements {
		movements[k] = v
	}
	booked := make(map[uuid.UUID]models.Booking, len(s.bookings))
	for k, v := range s.bookings {
		booked[k] = v
	}
	events := s.events
	s.mu.Unlock()

	if err := fn(nil); err != nil {
		s.mu.Lock()
		s.tiers, s.movements, s.bookings, s.events = tiers, movements, booked, events
		s.mu.Unlock()
		return err
	}
	return nil
}

func movementKey(bookingID uuid.UUID, kind enums.InventoryMovementKind) string {
	return bookingID.String() + "/" + string(kind)
}

func (s *memStore) quantity(tierID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tiers[tierID].Quantity
}

// inventory.Repository

type memInventory struct{ s *memStore }

func (s *memStore) inventoryRepo() inventory.Repository { return memInventory{s: s} }

func (m memInventory) WithTx(*gorm.DB) inventory.Repository { return m }

func (m memInventory) FindTier(ctx context.Context, tierID uuid.UUID) (*models.TicketTier, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	tier, ok := m.s.tiers[tierID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "ticket tier not found")
	}
	return &tier, nil
}

func (m memInventory) CompareAndSwapQuantity(ctx context.Context, tierID uuid.UUID, expected, next int) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	tier, ok := m.s.tiers[tierID]
	if !ok || tier.Quantity != expected || next < 0 {
		return false, nil
	}
	tier.Quantity = next
	m.s.tiers[tierID] = tier
	return true, nil
}

func (m memInventory) DecrementIfAvailable(ctx context.Context, tierID, eventID uuid.UUID, quantity int) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	tier, ok := m.s.tiers[tierID]
	if !ok || tier.EventID != eventID || tier.Quantity < quantity {
		return false, nil
	}
	tier.Quantity -= quantity
	m.s.tiers[tierID] = tier
	return true, nil
}

func (m memInventory) IncrementQuantity(ctx context.Context, tierID uuid.UUID, quantity int) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	tier, ok := m.s.tiers[tierID]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "ticket tier not found")
	}
	tier.Quantity += quantity
	m.s.tiers[tierID] = tier
	return nil
}

func (m memInventory) CreateMovement(ctx context.Context, movement *models.InventoryMovement) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	key := movementKey(movement.BookingID, movement.Kind)
	if _, ok := m.s.movements[key]; ok {
		return false, nil
	}
	m.s.movements[key] = *movement
	return true, nil
}

func (m memInventory) FindMovement(ctx context.Context, bookingID uuid.UUID, kind enums.InventoryMovementKind) (*models.InventoryMovement, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	movement, ok := m.s.movements[movementKey(bookingID, kind)]
	if !ok {
		return nil, nil
	}
	return &movement, nil
}

// bookings.Repository

type memBookings struct{ s *memStore }

func (m *memBookings) WithTx(*gorm.DB) bookings.Repository { return m }

func (m *memBookings) Create(ctx context.Context, booking *models.Booking) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.bookings[booking.ID] = *booking
	return nil
}

func (m *memBookings) FindByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	booking, ok := m.s.bookings[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "booking not found")
	}
	return &booking, nil
}

func (m *memBookings) FindByQRCode(ctx context.Context, voucher string) (*models.Booking, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, booking := range m.s.bookings {
		if booking.QRCode == voucher {
			b := booking
			return &b, nil
		}
	}
	return nil, nil
}

func (m *memBookings) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.BookingStatus) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	booking, ok := m.s.bookings[id]
	if !ok || booking.Status != from {
		return false, nil
	}
	booking.Status = to
	m.s.bookings[id] = booking
	return true, nil
}

func (m *memBookings) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Booking, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var rows []models.Booking
	for _, booking := range m.s.bookings {
		if booking.UserID == userID {
			rows = append(rows, booking)
		}
	}
	return rows, nil
}

// EventEmitter

type memOutbox struct{ s *memStore }

func (m memOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.events++
	return nil
}
