package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vodstream/vod-backend/pkg/db/dbtest"
	"github.com/vodstream/vod-backend/pkg/db/models"
	"github.com/vodstream/vod-backend/pkg/enums"
	"github.com/vodstream/vod-backend/pkg/outbox/payloads"
)

func emitEntitlement(t *testing.T, svc *Service, conn *gorm.DB, userID uuid.UUID) {
	t.Helper()
	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventEntitlementChanged,
			AggregateType: enums.AggregateProfile,
			AggregateID:   userID,
			Data: payloads.EntitlementChangedEvent{
				UserID: userID,
				Tier:   enums.SubscriptionTierBasic,
				Status: enums.ProfileStatusActive,
				Source: payloads.SourceCheckoutCompleted,
			},
		})
	})
	require.NoError(t, err)
}

func TestEmitRequiresTransaction(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	err := svc.Emit(context.Background(), nil, DomainEvent{})
	require.Error(t, err)
}

func TestFetchMarkPublishedAndFailed(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	first, second := uuid.New(), uuid.New()
	emitEntitlement(t, svc, conn, first)
	emitEntitlement(t, svc, conn, second)

	rows, err := repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NoError(t, repo.MarkPublishedTx(conn, rows[0].ID))
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.MarkFailedTx(conn, rows[1].ID, errors.New("publish failed")))
	}

	remaining, err := repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	var failed models.OutboxEvent
	require.NoError(t, conn.First(&failed, "id = ?", rows[1].ID).Error)
	assert.Equal(t, 3, failed.AttemptCount)
	require.NotNil(t, failed.LastError)
	assert.Equal(t, "publish failed", *failed.LastError)
}

func TestDeletePublishedBefore(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	old := time.Now().UTC().Add(-60 * 24 * time.Hour)
	recent := time.Now().UTC().Add(-time.Hour)
	lastErr := "boom"

	rows := []models.OutboxEvent{
		{EventType: enums.EventEntitlementChanged, AggregateType: enums.AggregateProfile, AggregateID: uuid.New(), Payload: []byte(`{}`), CreatedAt: old, PublishedAt: &old},
		{EventType: enums.EventEntitlementChanged, AggregateType: enums.AggregateProfile, AggregateID: uuid.New(), Payload: []byte(`{}`), CreatedAt: recent, PublishedAt: &recent},
		{EventType: enums.EventEntitlementChanged, AggregateType: enums.AggregateProfile, AggregateID: uuid.New(), Payload: []byte(`{}`), CreatedAt: old, AttemptCount: 10, LastError: &lastErr},
		{EventType: enums.EventEntitlementChanged, AggregateType: enums.AggregateProfile, AggregateID: uuid.New(), Payload: []byte(`{}`), CreatedAt: old, AttemptCount: 1},
	}
	for i := range rows {
		require.NoError(t, conn.Create(&rows[i]).Error)
	}

	cutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)
	deleted, err := repo.DeletePublishedBefore(context.Background(), conn, cutoff, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	var left []models.OutboxEvent
	require.NoError(t, conn.Order("attempt_count ASC").Find(&left).Error)
	require.Len(t, left, 2)
	assert.Equal(t, rows[1].ID, left[0].ID)
	assert.Equal(t, rows[3].ID, left[1].ID)
}

func TestDLQRepositoryTruncatesMessage(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewDLQRepository(conn)
	eventID := uuid.New()
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	msg := string(long)

	require.NoError(t, repo.InsertTx(conn, models.OutboxDLQ{
		EventID:       eventID,
		EventType:     enums.EventEntitlementChanged,
		AggregateType: enums.AggregateProfile,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{}`),
		ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
		ErrorMessage:  &msg,
		AttemptCount:  10,
	}))

	stored, err := repo.FindByEventID(context.Background(), eventID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.NotNil(t, stored.ErrorMessage)
	assert.Len(t, *stored.ErrorMessage, maxDLQErrorLen)

	missing, err := repo.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
