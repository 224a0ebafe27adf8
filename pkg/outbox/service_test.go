package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/db/dbtest"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/eventpass-backend/pkg/db/types"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox/payloads"
)

func TestEmitStoresEnvelope(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, logger.Nop())

	bookingID := uuid.New()
	actor := &ActorRef{UserID: uuid.New(), Role: "buyer"}
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventBookingConfirmed,
			AggregateType: enums.AggregateBooking,
			AggregateID:   bookingID,
			Actor:         actor,
			Data:          payloads.BookingConfirmedEvent{BookingID: bookingID, Quantity: 2},
		})
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	var rows []models.OutboxEvent
	if err := client.DB().Find(&rows).Error; err != nil {
		t.Fatalf("load rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.AggregateID != bookingID || row.EventType != enums.EventBookingConfirmed {
		t.Fatalf("unexpected row %+v", row)
	}

	var envelope PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Version != 1 || envelope.EventID == "" {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
	if envelope.Actor == nil || envelope.Actor.UserID != actor.UserID {
		t.Fatalf("actor not stored: %+v", envelope.Actor)
	}
	var data payloads.BookingConfirmedEvent
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.BookingID != bookingID || data.Quantity != 2 {
		t.Fatalf("unexpected data %+v", data)
	}
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)

	boom := errors.New("boom")
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventBookingRefunded,
			AggregateType: enums.AggregateBooking,
			AggregateID:   uuid.New(),
			Data:          payloads.BookingRefundedEvent{},
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	pending, err := repo.CountPending()
	if err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected rolled back row, got %d pending", pending)
	}
}

func TestEmitRejectsInvalidTypes(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	client := dbtest.Open(t)

	err := svc.Emit(context.Background(), client.DB(), DomainEvent{
		EventType:     enums.OutboxEventType("ticket_scanned"),
		AggregateType: enums.AggregateBooking,
		AggregateID:   uuid.New(),
	})
	if err == nil {
		t.Fatal("expected invalid event type error")
	}
	if err := svc.Emit(context.Background(), nil, DomainEvent{}); err == nil {
		t.Fatal("expected transaction required error")
	}
}

func TestFetchAndMarkLifecycle(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)

	for i := 0; i < 3; i++ {
		err := svc.Emit(context.Background(), client.DB(), DomainEvent{
			EventType:     enums.EventBookingConfirmed,
			AggregateType: enums.AggregateBooking,
			AggregateID:   uuid.New(),
			Data:          map[string]int{"n": i},
		})
		if err != nil {
			t.Fatalf("emit %d: %v", i, err)
		}
	}

	rows, err := repo.FetchUnpublishedForPublish(client.DB(), 10, 2)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}

	if err := repo.MarkPublishedTx(client.DB(), rows[0].ID); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	if err := repo.MarkFailedTx(client.DB(), rows[1].ID, errors.New("unavailable")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := repo.MarkTerminalTx(client.DB(), rows[2].ID, errors.New("bad payload"), 2); err != nil {
		t.Fatalf("mark terminal: %v", err)
	}

	rows, err = repo.FetchUnpublishedForPublish(client.DB(), 10, 2)
	if err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if len(rows) != 1 || rows[0].AttemptCount != 1 {
		t.Fatalf("expected one retryable row, got %+v", rows)
	}
	if rows[0].LastError == nil || *rows[0].LastError != "unavailable" {
		t.Fatalf("expected last error recorded, got %v", rows[0].LastError)
	}

	pending, err := repo.CountPending()
	if err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if pending != 2 {
		t.Fatalf("expected 2 pending rows, got %d", pending)
	}
}

func TestDLQRepositoryTruncatesAndFinds(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewDLQRepository(client.DB())

	eventID := uuid.New()
	long := strings.Repeat("x", maxDLQErrorLen+50)
	err := repo.InsertTx(client.DB(), models.OutboxDLQ{
		EventID:       eventID,
		EventType:     enums.EventBookingRefunded,
		AggregateType: enums.AggregateBooking,
		AggregateID:   uuid.New(),
		Payload:       dbtypes.JSON(`{"version":1}`),
		ErrorReason:   enums.OutboxDLQReasonNonRetryable,
		ErrorMessage:  &long,
		AttemptCount:  3,
	})
	if err != nil {
		t.Fatalf("insert dlq: %v", err)
	}
	if err := repo.InsertTx(nil, models.OutboxDLQ{}); err == nil {
		t.Fatal("expected error without transaction")
	}

	entry, err := repo.FindByEventID(context.Background(), eventID)
	if err != nil {
		t.Fatalf("find dlq: %v", err)
	}
	if entry == nil || entry.ErrorMessage == nil || len(*entry.ErrorMessage) != maxDLQErrorLen {
		t.Fatalf("expected truncated entry, got %+v", entry)
	}

	missing, err := repo.FindByEventID(context.Background(), uuid.New())
	if err != nil || missing != nil {
		t.Fatalf("expected no entry, got %+v err=%v", missing, err)
	}
}
