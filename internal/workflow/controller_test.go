package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/storekit/eawb-service/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBackend implements ShippingBackend with scripted responses.
type stubBackend struct {
	quotes    []models.CarrierQuote
	quotesErr error
	result    *models.AWBResult
	createErr error

	mu          sync.Mutex
	createCalls int
	block       chan struct{} // when set, CreateAWB waits on it
}

func (s *stubBackend) GetQuotes(ctx context.Context, orderID string, pkg models.PackageDetails) ([]models.CarrierQuote, error) {
	if err := pkg.Validate(); err != nil {
		return nil, err
	}
	return s.quotes, s.quotesErr
}

func (s *stubBackend) CreateAWB(ctx context.Context, orderID string, pkg models.PackageDetails, quote *models.CarrierQuote) (*models.AWBResult, error) {
	s.mu.Lock()
	s.createCalls++
	block := s.block
	s.mu.Unlock()
	if block != nil {
		<-block
	}
	return s.result, s.createErr
}

// stubSink records applied results.
type stubSink struct {
	mu      sync.Mutex
	applied []string
	results []*models.AWBResult
}

func (s *stubSink) ApplyAWBResult(ctx context.Context, orderID string, result *models.AWBResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, orderID)
	s.results = append(s.results, result)
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func shoesPackage() models.PackageDetails {
	return models.PackageDetails{
		Weight: 1, Parcels: 1, Length: 30, Width: 20, Height: 10,
		Contents: "Shoes", DeclaredValue: 150,
	}
}

func twoQuotes() []models.CarrierQuote {
	return []models.CarrierQuote{
		{
			CarrierID: "1", CarrierName: "Sameday", ServiceID: 7,
			Price: models.QuotePrice{Amount: 15.55, VAT: 2.95, Total: 18.50, Currency: "RON"},
		},
		{
			CarrierID: "2", CarrierName: "Cargus", ServiceID: 34,
			Price: models.QuotePrice{Amount: 18.49, VAT: 3.51, Total: 22.00, Currency: "RON"},
		},
	}
}

func TestFetchQuotesAdvancesToPricing(t *testing.T) {
	backend := &stubBackend{quotes: twoQuotes()}
	ctrl := NewController("order-1", backend, &stubSink{}, testLogger())

	quotes, err := ctrl.FetchQuotes(context.Background(), shoesPackage())

	require.NoError(t, err)
	assert.Len(t, quotes, 2)
	assert.Equal(t, StepPricing, ctrl.Step())
	assert.True(t, ctrl.HasOptions())
}

func TestFetchQuotesZeroOptionsStillAdvances(t *testing.T) {
	backend := &stubBackend{quotes: []models.CarrierQuote{}}
	ctrl := NewController("order-1", backend, &stubSink{}, testLogger())

	quotes, err := ctrl.FetchQuotes(context.Background(), shoesPackage())

	require.NoError(t, err)
	assert.Empty(t, quotes)
	// Zero options is a renderable pricing state, not a failure.
	assert.Equal(t, StepPricing, ctrl.Step())
	assert.False(t, ctrl.HasOptions())
}

func TestFetchQuotesValidationKeepsPackageStep(t *testing.T) {
	backend := &stubBackend{quotes: twoQuotes()}
	ctrl := NewController("order-1", backend, &stubSink{}, testLogger())

	pkg := shoesPackage()
	pkg.Contents = "   "
	_, err := ctrl.FetchQuotes(context.Background(), pkg)

	require.ErrorIs(t, err, models.ErrEmptyContents)
	assert.Equal(t, StepPackage, ctrl.Step())
}

func TestFetchQuotesBackendFailureKeepsPackageStep(t *testing.T) {
	backend := &stubBackend{quotesErr: errors.New("backend down")}
	ctrl := NewController("order-1", backend, &stubSink{}, testLogger())

	_, err := ctrl.FetchQuotes(context.Background(), shoesPackage())

	require.Error(t, err)
	assert.Equal(t, StepPackage, ctrl.Step())
	assert.Empty(t, ctrl.Quotes())
}

func TestCreateAWBWithoutSelection(t *testing.T) {
	backend := &stubBackend{quotes: twoQuotes()}
	ctrl := NewController("order-1", backend, &stubSink{}, testLogger())

	_, err := ctrl.FetchQuotes(context.Background(), shoesPackage())
	require.NoError(t, err)

	_, err = ctrl.CreateAWB(context.Background())
	require.ErrorIs(t, err, ErrNoQuoteSelected)
	assert.Equal(t, 0, backend.createCalls)
}

func TestCommitFailureRollsBackToPricing(t *testing.T) {
	backend := &stubBackend{
		quotes:    twoQuotes(),
		createErr: errors.New("carrier rejected"),
	}
	ctrl := NewController("order-1", backend, &stubSink{}, testLogger())

	_, err := ctrl.FetchQuotes(context.Background(), shoesPackage())
	require.NoError(t, err)
	require.NoError(t, ctrl.SelectQuote(0))

	_, err = ctrl.CreateAWB(context.Background())

	require.Error(t, err)
	// Rollback target is pricing, never package, and the quotes survive.
	assert.Equal(t, StepPricing, ctrl.Step())
	assert.Len(t, ctrl.Quotes(), 2)
	assert.Equal(t, twoQuotes(), ctrl.Quotes())
}

func TestCommitSuccessScenario(t *testing.T) {
	backend := &stubBackend{
		quotes: twoQuotes(),
		result: &models.AWBResult{
			AWBNumber:             "AWB123456789",
			CarrierName:           "Sameday",
			TrackingURL:           "https://track.example.com/AWB123456789",
			EstimatedDeliveryDate: "2026-09-02",
		},
	}
	sink := &stubSink{}
	ctrl := NewController("order-1", backend, sink, testLogger())

	_, err := ctrl.FetchQuotes(context.Background(), shoesPackage())
	require.NoError(t, err)

	// Pick the cheaper 18.50 RON option.
	require.NoError(t, ctrl.SelectQuote(0))
	selected := ctrl.Selected()
	require.NotNil(t, selected)
	assert.Equal(t, 18.50, selected.Price.Total)

	result, err := ctrl.CreateAWB(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AWB123456789", result.AWBNumber)

	require.Len(t, sink.applied, 1)
	assert.Equal(t, "order-1", sink.applied[0])
	assert.Equal(t, result, sink.results[0])

	// Terminal success resets the session.
	assert.Equal(t, StepPackage, ctrl.Step())
	assert.Empty(t, ctrl.Quotes())
	assert.Nil(t, ctrl.Selected())
}

func TestCloseResetIsIdempotent(t *testing.T) {
	backend := &stubBackend{quotes: twoQuotes()}
	ctrl := NewController("order-1", backend, &stubSink{}, testLogger())

	_, err := ctrl.FetchQuotes(context.Background(), shoesPackage())
	require.NoError(t, err)
	require.NoError(t, ctrl.SelectQuote(1))

	require.NoError(t, ctrl.Close())
	require.NoError(t, ctrl.Close())

	assert.Equal(t, StepPackage, ctrl.Step())
	assert.Empty(t, ctrl.Quotes())
	assert.Nil(t, ctrl.Selected())
}

func TestCloseSuppressedWhileCommitInFlight(t *testing.T) {
	block := make(chan struct{})
	backend := &stubBackend{
		quotes: twoQuotes(),
		result: &models.AWBResult{AWBNumber: "AWB1"},
		block:  block,
	}
	ctrl := NewController("order-1", backend, &stubSink{}, testLogger())

	_, err := ctrl.FetchQuotes(context.Background(), shoesPackage())
	require.NoError(t, err)
	require.NoError(t, ctrl.SelectQuote(0))

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		ctrl.CreateAWB(context.Background())
		close(done)
	}()

	<-started
	require.Eventually(t, func() bool {
		return ctrl.Step() == StepCreating
	}, time.Second, time.Millisecond, "commit never reached the creating step")

	assert.ErrorIs(t, ctrl.Close(), ErrOperationInFlight)

	close(block)
	<-done
	require.NoError(t, ctrl.Close())
}

func TestBackReturnsToPackageStep(t *testing.T) {
	backend := &stubBackend{quotes: twoQuotes()}
	ctrl := NewController("order-1", backend, &stubSink{}, testLogger())

	require.Error(t, ctrl.Back())

	_, err := ctrl.FetchQuotes(context.Background(), shoesPackage())
	require.NoError(t, err)

	require.NoError(t, ctrl.Back())
	assert.Equal(t, StepPackage, ctrl.Step())
}

func TestSelectQuoteOutOfRange(t *testing.T) {
	backend := &stubBackend{quotes: twoQuotes()}
	ctrl := NewController("order-1", backend, &stubSink{}, testLogger())

	require.ErrorIs(t, ctrl.SelectQuote(0), ErrWrongStep)

	_, err := ctrl.FetchQuotes(context.Background(), shoesPackage())
	require.NoError(t, err)

	require.Error(t, ctrl.SelectQuote(2))
	require.Error(t, ctrl.SelectQuote(-1))
	require.NoError(t, ctrl.SelectQuote(1))
}

func TestRegistryDropYieldsFreshSession(t *testing.T) {
	backend := &stubBackend{quotes: twoQuotes()}
	reg := NewRegistry(backend, &stubSink{}, testLogger())

	ctrl := reg.Session("order-1")
	_, err := ctrl.FetchQuotes(context.Background(), shoesPackage())
	require.NoError(t, err)
	assert.Same(t, ctrl, reg.Session("order-1"))

	reg.Drop("order-1")

	fresh := reg.Session("order-1")
	assert.NotSame(t, ctrl, fresh)
	assert.Equal(t, StepPackage, fresh.Step())
}
