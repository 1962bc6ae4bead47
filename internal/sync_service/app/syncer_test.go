package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopbridge/golang_services/internal/core_domain"
	"github.com/shopbridge/golang_services/internal/ingestion_service/domain"
	"github.com/shopbridge/golang_services/internal/platform/interaction"
	"github.com/shopbridge/golang_services/internal/platform/messagebroker"
	"github.com/shopbridge/golang_services/internal/sync_service/adapters/storefront"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockOrderSource struct {
	mock.Mock
}

func (m *MockOrderSource) Probe(ctx context.Context) (*storefront.Shop, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storefront.Shop), args.Error(1)
}

func (m *MockOrderSource) ListOrdersSince(ctx context.Context, since time.Time) ([]domain.Order, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Order), args.Error(1)
}

func (m *MockOrderSource) ListOrdersAfterID(ctx context.Context, sinceID int64) ([]domain.Order, error) {
	args := m.Called(ctx, sinceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Order), args.Error(1)
}

type markerSet map[string]bool

func (s markerSet) ListProcessedIDs(_ context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, id := range ids {
		if s[id] {
			out[id] = true
		}
	}
	return out, nil
}

// recordingProcessor records replayed orders and marks them processed.
type recordingProcessor struct {
	mu      sync.Mutex
	markers markerSet
	calls   []string
	fail    map[string]error
	skip    map[string]domain.ProcessOutcome
}

func (p *recordingProcessor) ProcessOrder(_ context.Context, order *domain.Order, topic domain.Topic, source domain.SyncSource) (domain.ProcessOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := order.ExternalID()
	p.calls = append(p.calls, id)
	if topic != domain.TopicReconciliation || source != domain.SyncSourceReconciliationSync {
		return "", errors.New("unexpected topic or source")
	}
	if err := p.fail[id]; err != nil {
		return "", err
	}
	if outcome, ok := p.skip[id]; ok {
		return outcome, nil
	}
	p.markers[id] = true
	return domain.OutcomeRecorded, nil
}

type publishedEvents struct {
	mu       sync.Mutex
	subjects []string
}

func (p *publishedEvents) Publish(_ context.Context, subject string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

type syncerFixture struct {
	syncer    *Syncer
	source    *MockOrderSource
	markers   markerSet
	processor *recordingProcessor
	store     *interaction.MemoryStore
	events    *publishedEvents
	now       time.Time
}

func setupSyncerTest(t *testing.T) *syncerFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &syncerFixture{
		source:  new(MockOrderSource),
		markers: markerSet{},
		store:   interaction.NewMemoryStore(),
		events:  &publishedEvents{},
		now:     time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC),
	}
	f.processor = &recordingProcessor{markers: f.markers, fail: map[string]error{}, skip: map[string]domain.ProcessOutcome{}}
	f.syncer = NewSyncer(f.source, f.markers, f.processor, f.store, f.events, 0, time.Hour, logger)
	f.syncer.now = func() time.Time { return f.now }
	return f
}

func paidOrders(ids ...int64) []domain.Order {
	orders := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		orders = append(orders, domain.Order{ID: id, FinancialStatus: "paid", TotalPrice: "10.00"})
	}
	return orders
}

func TestSyncer_Preview_DiffsAgainstMarkers(t *testing.T) {
	f := setupSyncerTest(t)
	ctx := context.Background()
	since := f.now.Add(-72 * time.Hour)

	f.source.On("Probe", ctx).Return(&storefront.Shop{Name: "Bridge Shop"}, nil)
	f.source.On("ListOrdersSince", ctx, since).Return(paidOrders(1, 2, 3, 4, 5, 6, 7, 8, 9, 10), nil)
	for _, id := range []string{"1", "2", "4", "6", "8", "9"} {
		f.markers[id] = true
	}

	preview, err := f.syncer.Preview(ctx, 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 10, preview.Found)
	assert.Equal(t, 4, preview.ToProcess)
	assert.Equal(t, since, preview.Since)
	assert.NotEmpty(t, preview.Token)

	var ids []string
	for i := range preview.Candidates {
		ids = append(ids, preview.Candidates[i].ExternalID())
	}
	sort.Strings(ids)
	assert.Equal(t, []string{"10", "3", "5", "7"}, ids)

	// Preview alone never enqueues.
	assert.Empty(t, f.processor.calls)

	stored, err := f.syncer.GetPreview(ctx, preview.Token)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.ToProcess)
	f.source.AssertExpectations(t)
}

func TestSyncer_PreviewAfterID(t *testing.T) {
	f := setupSyncerTest(t)
	ctx := context.Background()
	f.source.On("Probe", ctx).Return(&storefront.Shop{Name: "Bridge Shop"}, nil)
	f.source.On("ListOrdersAfterID", ctx, int64(100)).Return(paidOrders(101, 102, 103), nil)
	f.markers["102"] = true

	preview, err := f.syncer.PreviewAfterID(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), preview.AfterID)
	assert.True(t, preview.Since.IsZero())
	assert.Equal(t, 3, preview.Found)
	assert.Equal(t, 2, preview.ToProcess)
	f.source.AssertNotCalled(t, "ListOrdersSince", mock.Anything, mock.Anything)

	result, err := f.syncer.Apply(ctx, preview.Token)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.ElementsMatch(t, []string{"101", "103"}, f.processor.calls)
}

func TestSyncer_Preview_ProbeFailureAborts(t *testing.T) {
	f := setupSyncerTest(t)
	ctx := context.Background()
	upstream := &core_domain.UpstreamAPIError{Op: "probe", StatusCode: 401, Err: errors.New("bad token")}
	f.source.On("Probe", ctx).Return(nil, upstream)

	_, err := f.syncer.Preview(ctx, time.Hour)
	var target *core_domain.UpstreamAPIError
	assert.ErrorAs(t, err, &target)
	f.source.AssertNotCalled(t, "ListOrdersSince", mock.Anything, mock.Anything)
}

func TestSyncer_Apply(t *testing.T) {
	f := setupSyncerTest(t)
	ctx := context.Background()
	f.source.On("Probe", ctx).Return(&storefront.Shop{Name: "Bridge Shop"}, nil)
	f.source.On("ListOrdersSince", ctx, mock.Anything).Return(paidOrders(1, 2, 3, 4, 5), nil)
	f.markers["1"] = true
	f.processor.fail["3"] = errors.New("db down")
	f.processor.skip["4"] = domain.OutcomePendingPayment

	preview, err := f.syncer.Preview(ctx, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 4, preview.ToProcess)

	result, err := f.syncer.Apply(ctx, preview.Token)
	require.NoError(t, err)
	assert.Equal(t, &SyncResult{Found: 5, ToProcess: 4, Processed: 2, Skipped: 1, Failed: 1}, result)
	// Candidates are replayed in order and one failure does not stop the batch.
	assert.Equal(t, []string{"2", "3", "4", "5"}, f.processor.calls)
	assert.Equal(t, []string{messagebroker.SubjectSyncCompleted}, f.events.subjects)

	t.Run("TokenIsSingleUse", func(t *testing.T) {
		_, err := f.syncer.Apply(ctx, preview.Token)
		assert.ErrorIs(t, err, ErrPreviewNotFound)
	})
}

func TestSyncer_Apply_UnknownToken(t *testing.T) {
	f := setupSyncerTest(t)
	_, err := f.syncer.Apply(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPreviewNotFound)
}

func TestSyncer_Apply_RespectsOrderDelay(t *testing.T) {
	f := setupSyncerTest(t)
	f.syncer.orderDelay = 20 * time.Millisecond
	ctx := context.Background()
	f.source.On("Probe", ctx).Return(&storefront.Shop{}, nil)
	f.source.On("ListOrdersSince", ctx, mock.Anything).Return(paidOrders(1, 2, 3), nil)

	preview, err := f.syncer.Preview(ctx, time.Hour)
	require.NoError(t, err)

	start := time.Now()
	result, err := f.syncer.Apply(ctx, preview.Token)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestSyncer_Apply_CancelledContext(t *testing.T) {
	f := setupSyncerTest(t)
	f.syncer.orderDelay = time.Hour
	ctx := context.Background()
	f.source.On("Probe", ctx).Return(&storefront.Shop{}, nil)
	f.source.On("ListOrdersSince", ctx, mock.Anything).Return(paidOrders(1, 2), nil)

	preview, err := f.syncer.Preview(ctx, time.Hour)
	require.NoError(t, err)

	cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	result, err := f.syncer.Apply(cctx, preview.Token)
	assert.Error(t, err)
	assert.Equal(t, 1, result.Processed)
}

func TestSyncer_SyncOfflineOrders_NothingNew(t *testing.T) {
	f := setupSyncerTest(t)
	ctx := context.Background()
	f.source.On("Probe", ctx).Return(&storefront.Shop{}, nil)
	f.source.On("ListOrdersSince", ctx, mock.Anything).Return(paidOrders(1, 2, 3), nil)
	f.markers["1"], f.markers["2"], f.markers["3"] = true, true, true

	result, err := f.syncer.SyncOfflineOrders(ctx, 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, &SyncResult{Found: 3}, result)
	assert.Empty(t, f.processor.calls)
}

func TestSyncer_SyncOfflineOrders_AppliesCandidates(t *testing.T) {
	f := setupSyncerTest(t)
	ctx := context.Background()
	f.source.On("Probe", ctx).Return(&storefront.Shop{}, nil)
	f.source.On("ListOrdersSince", ctx, mock.Anything).Return(paidOrders(1, 2), nil)
	f.markers["1"] = true

	result, err := f.syncer.SyncOfflineOrders(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, &SyncResult{Found: 2, ToProcess: 1, Processed: 1}, result)
	assert.True(t, f.markers["2"])
}
