package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toolhire/platform/postcode-service/internal/lookup"
	"github.com/toolhire/platform/postcode-service/internal/telemetry"
	"github.com/toolhire/platform/shared/cqrs"
	"github.com/toolhire/platform/shared/events"
	"github.com/toolhire/platform/shared/models"
)

// ---- stubs ----

// lookupStub answers from a fixed table and counts calls.
type lookupStub struct {
	mu      sync.Mutex
	results map[string]*lookup.Result
	errs    map[string]error
	calls   atomic.Int32
	seen    []string
	delay   time.Duration
}

func (s *lookupStub) Lookup(ctx context.Context, postcode string) (*lookup.Result, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.seen = append(s.seen, postcode)
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("postcode lookup request: %w", ctx.Err())
		}
	}
	if err, ok := s.errs[postcode]; ok {
		return nil, err
	}
	if r, ok := s.results[postcode]; ok {
		return r, nil
	}
	return nil, lookup.ErrNotFound
}

// memoryCache round-trips values by copy, like the Redis-backed cache.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string]models.ValidationResult
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string]models.ValidationResult{}}
}

func (c *memoryCache) Get(_ context.Context, canonical string) (*models.ValidationResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[canonical]
	if !ok {
		return nil, false
	}
	return &v, true
}

func (c *memoryCache) Put(_ context.Context, canonical string, result *models.ValidationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[canonical] = *result
}

type publishedEvent struct {
	stream    string
	eventType string
	data      events.PostcodeLookupEvent
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, stream, eventType string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{stream, eventType, data.(events.PostcodeLookupEvent)})
	return p.err
}

type listerStub struct {
	gotLimit int
	records  []models.LookupRecord
}

func (l *listerStub) ListRecent(_ context.Context, limit int) ([]models.LookupRecord, error) {
	l.gotLimit = limit
	return l.records, nil
}

// ---- test data ----

func float(v float64) *float64 { return &v }

func registry() *lookupStub {
	return &lookupStub{
		results: map[string]*lookup.Result{
			"SW1A 1AA": {
				Postcode: "SW1A 1AA", Outcode: "SW1A", Incode: "1AA",
				Latitude: float(51.501009), Longitude: float(-0.141588),
				Country: "England", Region: "London", AdminDistrict: "Westminster",
			},
			"EH1 2AA": {
				Postcode: "EH1 2AA", Outcode: "EH1", Incode: "2AA",
				Latitude: float(55.95), Longitude: float(-3.19),
				Country: "Scotland", Region: "", AdminDistrict: "City of Edinburgh",
			},
			"JE2 3AB": {
				Postcode: "JE2 3AB", Outcode: "JE2", Incode: "3AB",
				Country: "Jersey",
			},
			"BT1 1AA": {
				Postcode: "BT1 1AA", Outcode: "bt1", Incode: "1aa",
				Country: "Northern Ireland", AdminDistrict: "Belfast",
			},
			"M1 1AE": {
				Postcode: "M1 1AE", Country: "England",
			},
		},
		errs: map[string]error{
			"CR2 6XH":  lookup.ErrMissingResult,
			"DN55 1PT": &lookup.ServiceError{Op: "get", StatusCode: 503, Err: errors.New("unavailable")},
			"W1A 0AX":  errors.New("connection reset"),
		},
	}
}

func validate(t *testing.T, svc *PostcodeQueryService, raw string) *models.ValidationResult {
	t.Helper()
	result, err := svc.Validate(context.Background(), cqrs.ValidatePostcodeQuery{Postcode: raw})
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

// ---- tests ----

func TestValidateValidPostcode(t *testing.T) {
	stub := registry()
	svc := NewPostcodeQueryService(stub, Options{})

	result := validate(t, svc, "sw1a1aa")

	assert.True(t, result.IsValid)
	assert.Equal(t, "sw1a1aa", result.Postcode)
	assert.Equal(t, "SW1A 1AA", result.FormattedPostcode)
	require.NotNil(t, result.Components)
	assert.Equal(t, "SW", result.Components.Area)
	assert.Equal(t, "1A", result.Components.District)
	assert.Equal(t, "1", result.Components.Sector)
	assert.Equal(t, "AA", result.Components.Unit)
	assert.Equal(t, models.CountryGB, result.Country)
	assert.Equal(t, "London", result.Region)
	assert.Equal(t, "Westminster", result.City)
	require.NotNil(t, result.Coordinates)
	assert.InDelta(t, 51.501009, result.Coordinates.Latitude, 1e-9)
	assert.Empty(t, result.Error)
	assert.Empty(t, result.Message)
	assert.Equal(t, []string{"SW1A 1AA"}, stub.seen)
}

func TestValidateScenarios(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantValid   bool
		wantError   string
		wantLookups int32
	}{
		{"scenario A: registered london postcode", "SW1A 1AA", true, "", 1},
		{"scenario B: us zip never reaches registry", "43003", false, ReasonInvalidFormat, 0},
		{"scenario C: empty input", "", false, ReasonRequired, 0},
		{"whitespace only input", "   ", false, ReasonRequired, 0},
		{"scenario D: unregistered postcode", "PQ2 3RE", false, ReasonNotFound, 1},
		{"crown dependency is not UK", "JE2 3AB", false, ReasonNotUK, 1},
		{"northern ireland counts as GB", "BT1 1AA", true, "", 1},
		{"result without result object", "CR2 6XH", false, ReasonInvalidResponse, 1},
		{"result without outcode", "M1 1AE", false, ReasonInvalidResponse, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := registry()
			svc := NewPostcodeQueryService(stub, Options{})

			result := validate(t, svc, tt.input)

			assert.Equal(t, tt.wantValid, result.IsValid)
			assert.Equal(t, tt.wantError, result.Error)
			assert.Equal(t, tt.input, result.Postcode)
			assert.Equal(t, tt.wantLookups, stub.calls.Load())
			if tt.wantValid {
				assert.Equal(t, models.CountryGB, result.Country)
				assert.Empty(t, result.Message)
			} else {
				assert.NotEmpty(t, result.Message)
				assert.Empty(t, result.FormattedPostcode)
				assert.Nil(t, result.Components)
				assert.Nil(t, result.Coordinates)
			}
		})
	}
}

func TestValidateFormatMessageSuggestsExample(t *testing.T) {
	svc := NewPostcodeQueryService(registry(), Options{})
	result := validate(t, svc, "43003")
	assert.Equal(t, "Please enter a valid UK postcode format (e.g., SW1A 1AA)", result.Message)
}

func TestValidateNormalizesRegistryParts(t *testing.T) {
	svc := NewPostcodeQueryService(registry(), Options{})
	result := validate(t, svc, "bt1 1aa")
	require.True(t, result.IsValid)
	assert.Equal(t, "BT1 1AA", result.FormattedPostcode)
	assert.Equal(t, "BT", result.Area())
	assert.Nil(t, result.Coordinates)
}

func TestValidateServiceError(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantStatus int
	}{
		{"upstream 5xx", "DN55 1PT", 503},
		{"transport failure is wrapped", "W1A 0AX", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := newMemoryCache()
			svc := NewPostcodeQueryService(registry(), Options{Cache: cache})

			result, err := svc.Validate(context.Background(), cqrs.ValidatePostcodeQuery{Postcode: tt.input})

			require.Error(t, err)
			assert.Nil(t, result)
			var svcErr *lookup.ServiceError
			require.ErrorAs(t, err, &svcErr)
			assert.Equal(t, tt.wantStatus, svcErr.StatusCode)
			assert.Empty(t, cache.entries)
		})
	}
}

func TestValidateCachesDefinitiveOutcomes(t *testing.T) {
	stub := registry()
	cache := newMemoryCache()
	svc := NewPostcodeQueryService(stub, Options{Cache: cache})

	first := validate(t, svc, "SW1A 1AA")
	second := validate(t, svc, "sw1a1aa")
	notFound := validate(t, svc, "PQ2 3RE")
	notFoundAgain := validate(t, svc, "pq23re")

	assert.Equal(t, int32(2), stub.calls.Load())
	assert.True(t, first.IsValid)
	assert.True(t, second.IsValid)
	assert.Equal(t, "sw1a1aa", second.Postcode)
	assert.Equal(t, first.FormattedPostcode, second.FormattedPostcode)
	assert.Equal(t, ReasonNotFound, notFound.Error)
	assert.Equal(t, ReasonNotFound, notFoundAgain.Error)
	assert.Equal(t, "pq23re", notFoundAgain.Postcode)
	assert.Contains(t, cache.entries, "SW1A 1AA")
	assert.Contains(t, cache.entries, "PQ2 3RE")
}

func TestValidateDoesNotCacheInvalidResponse(t *testing.T) {
	stub := registry()
	cache := newMemoryCache()
	svc := NewPostcodeQueryService(stub, Options{Cache: cache})

	validate(t, svc, "CR2 6XH")
	validate(t, svc, "CR2 6XH")

	assert.Equal(t, int32(2), stub.calls.Load())
	assert.Empty(t, cache.entries)
}

func TestValidateCollapsesConcurrentLookups(t *testing.T) {
	stub := registry()
	stub.delay = 100 * time.Millisecond
	svc := NewPostcodeQueryService(stub, Options{})

	inputs := []string{"SW1A 1AA", "sw1a1aa", "SW1A1AA", " sw1a 1aa "}
	var wg sync.WaitGroup
	results := make([]*models.ValidationResult, len(inputs))
	errs := make([]error, len(inputs))
	for i, raw := range inputs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.Validate(context.Background(), cqrs.ValidatePostcodeQuery{Postcode: raw})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), stub.calls.Load())
	for i, r := range results {
		require.NoError(t, errs[i])
		assert.True(t, r.IsValid)
		assert.Equal(t, inputs[i], r.Postcode, "each caller keeps its own input")
	}
}

func TestValidateSharedLookupSurvivesCallerTimeout(t *testing.T) {
	stub := registry()
	stub.delay = 100 * time.Millisecond
	svc := NewPostcodeQueryService(stub, Options{})

	shortCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var shortErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, shortErr = svc.Validate(shortCtx, cqrs.ValidatePostcodeQuery{Postcode: "SW1A 1AA"})
	}()
	require.Eventually(t, func() bool { return stub.calls.Load() == 1 }, time.Second, time.Millisecond)

	result, err := svc.Validate(context.Background(), cqrs.ValidatePostcodeQuery{Postcode: "SW1A 1AA"})
	<-done

	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, int32(1), stub.calls.Load())

	var svcErr *lookup.ServiceError
	require.ErrorAs(t, shortErr, &svcErr)
	assert.ErrorIs(t, shortErr, context.DeadlineExceeded)
}

func TestValidatePublishesEvents(t *testing.T) {
	pub := &recordingPublisher{}
	cache := newMemoryCache()
	svc := NewPostcodeQueryService(registry(), Options{Cache: cache, Publisher: pub})

	validate(t, svc, "SW1A 1AA")
	validate(t, svc, "sw1a 1aa")
	validate(t, svc, "PQ2 3RE")
	validate(t, svc, "43003")
	validate(t, svc, "")

	require.Len(t, pub.events, 3)

	assert.Equal(t, events.PostcodeEventsStream, pub.events[0].stream)
	assert.Equal(t, events.PostcodeValidated, pub.events[0].eventType)
	assert.Equal(t, events.PostcodeLookupEvent{
		Postcode: "SW1A 1AA", FormattedPostcode: "SW1A 1AA", Outcome: models.OutcomeValid,
		Area: "SW", Region: "London", Cached: false,
	}, pub.events[0].data)

	assert.True(t, pub.events[1].data.Cached)
	assert.Equal(t, "sw1a 1aa", pub.events[1].data.Postcode)

	assert.Equal(t, events.PostcodeRejected, pub.events[2].eventType)
	assert.Equal(t, models.OutcomeNotFound, pub.events[2].data.Outcome)
	assert.Equal(t, "PQ2 3RE", pub.events[2].data.FormattedPostcode)
	assert.Empty(t, pub.events[2].data.Area)
}

func TestValidateIgnoresPublishFailure(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("redis down")}
	svc := NewPostcodeQueryService(registry(), Options{Publisher: pub})

	result := validate(t, svc, "SW1A 1AA")
	assert.True(t, result.IsValid)
	assert.Len(t, pub.events, 1)
}

func TestValidateRecordsMetrics(t *testing.T) {
	m := telemetry.NewLookupMetrics(prometheus.NewRegistry())
	svc := NewPostcodeQueryService(registry(), Options{Cache: newMemoryCache(), Metrics: m})

	validate(t, svc, "SW1A 1AA")
	validate(t, svc, "SW1A 1AA")
	validate(t, svc, "43003")
	_, err := svc.Validate(context.Background(), cqrs.ValidatePostcodeQuery{Postcode: "DN55 1PT"})
	require.Error(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Outcomes.WithLabelValues(models.OutcomeValid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("invalid_format")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("service_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheMisses))
}

func TestCheckRegion(t *testing.T) {
	tests := []struct {
		name       string
		postcode   string
		region     string
		wantIn     bool
		wantRegion string
		wantArea   string
		wantError  string
	}{
		{"london postcode in london", "SW1A 1AA", "London", true, "London", "SW", ""},
		{"region name is case-insensitive", "SW1A 1AA", "london", true, "London", "SW", ""},
		{"edinburgh not in london", "EH1 2AA", "London", false, "London", "EH", ""},
		{"edinburgh in scotland", "EH1 2AA", "Scotland", true, "Scotland", "EH", ""},
		{"unknown region never matches", "SW1A 1AA", "Atlantis", false, "Atlantis", "SW", ""},
		{"malformed postcode", "43003", "London", false, "London", "", ReasonInvalidFormat},
		{"unregistered postcode", "PQ2 3RE", "London", false, "London", "", ReasonNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewPostcodeQueryService(registry(), Options{})

			check, err := svc.CheckRegion(context.Background(), cqrs.CheckRegionQuery{Postcode: tt.postcode, Region: tt.region})

			require.NoError(t, err)
			assert.Equal(t, tt.postcode, check.Postcode)
			assert.Equal(t, tt.wantRegion, check.Region)
			assert.Equal(t, tt.wantIn, check.IsInRegion)
			assert.Equal(t, tt.wantArea, check.Area)
			assert.Equal(t, tt.wantError, check.Error)
		})
	}
}

func TestCheckRegionServiceError(t *testing.T) {
	svc := NewPostcodeQueryService(registry(), Options{})
	check, err := svc.CheckRegion(context.Background(), cqrs.CheckRegionQuery{Postcode: "DN55 1PT", Region: "Yorkshire"})
	assert.Nil(t, check)
	var svcErr *lookup.ServiceError
	assert.ErrorAs(t, err, &svcErr)
}

func TestValidateBatchKeepsInputOrder(t *testing.T) {
	stub := registry()
	svc := NewPostcodeQueryService(stub, Options{BatchConcurrency: 2})

	inputs := []string{"SW1A 1AA", "43003", "", "EH1 2AA", "PQ2 3RE", "JE2 3AB"}
	results, err := svc.ValidateBatch(context.Background(), cqrs.ValidateBatchQuery{Postcodes: inputs})

	require.NoError(t, err)
	require.Len(t, results, len(inputs))
	for i, r := range results {
		assert.Equal(t, inputs[i], r.Postcode)
	}
	assert.True(t, results[0].IsValid)
	assert.Equal(t, ReasonInvalidFormat, results[1].Error)
	assert.Equal(t, ReasonRequired, results[2].Error)
	assert.True(t, results[3].IsValid)
	assert.Equal(t, ReasonNotFound, results[4].Error)
	assert.Equal(t, ReasonNotUK, results[5].Error)
	assert.Equal(t, int32(4), stub.calls.Load())
}

func TestValidateBatchFailsOnServiceError(t *testing.T) {
	svc := NewPostcodeQueryService(registry(), Options{})
	results, err := svc.ValidateBatch(context.Background(), cqrs.ValidateBatchQuery{
		Postcodes: []string{"SW1A 1AA", "DN55 1PT", "EH1 2AA"},
	})
	assert.Nil(t, results)
	var svcErr *lookup.ServiceError
	assert.ErrorAs(t, err, &svcErr)
}

func TestValidateBatchRejectsOversizedBatch(t *testing.T) {
	stub := registry()
	svc := NewPostcodeQueryService(stub, Options{})

	postcodes := make([]string, MaxBatchSize+1)
	for i := range postcodes {
		postcodes[i] = fmt.Sprintf("SW1A %dAA", i%10)
	}
	_, err := svc.ValidateBatch(context.Background(), cqrs.ValidateBatchQuery{Postcodes: postcodes})
	assert.ErrorIs(t, err, ErrBatchTooLarge)
	assert.Zero(t, stub.calls.Load())
}

func TestValidateBatchEmpty(t *testing.T) {
	svc := NewPostcodeQueryService(registry(), Options{})
	results, err := svc.ValidateBatch(context.Background(), cqrs.ValidateBatchQuery{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestListRecentLookups(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		wantLimit int
	}{
		{"default when unset", 0, DefaultRecentLimit},
		{"explicit limit", 5, 5},
		{"clamped to max", 500, MaxRecentLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lister := &listerStub{records: []models.LookupRecord{{ID: "lkp-0123456789"}}}
			svc := NewPostcodeQueryService(registry(), Options{Lookups: lister})

			records, err := svc.ListRecentLookups(context.Background(), cqrs.ListRecentLookupsQuery{Limit: tt.limit})

			require.NoError(t, err)
			assert.Len(t, records, 1)
			assert.Equal(t, tt.wantLimit, lister.gotLimit)
		})
	}
}

func TestListRecentLookupsWithoutAuditLog(t *testing.T) {
	svc := NewPostcodeQueryService(registry(), Options{})
	_, err := svc.ListRecentLookups(context.Background(), cqrs.ListRecentLookupsQuery{})
	assert.ErrorIs(t, err, ErrAuditDisabled)
}
