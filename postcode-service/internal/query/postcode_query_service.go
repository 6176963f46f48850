package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/toolhire/platform/postcode-service/internal/lookup"
	"github.com/toolhire/platform/postcode-service/internal/telemetry"
	"github.com/toolhire/platform/shared/cqrs"
	"github.com/toolhire/platform/shared/events"
	"github.com/toolhire/platform/shared/models"
	"github.com/toolhire/platform/shared/postcode"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Reasons reported in ValidationResult.Error.
const (
	ReasonRequired        = "Postcode is required"
	ReasonInvalidFormat   = "Invalid postcode format"
	ReasonNotFound        = "Postcode not found in UK"
	ReasonNotUK           = "Postcode not in UK"
	ReasonInvalidResponse = "Invalid response from validation service"
)

const (
	messageRequired        = "Please enter a postcode"
	messageInvalidFormat   = "Please enter a valid UK postcode format (e.g., " + postcode.ExampleFormat + ")"
	messageNotFound        = "This postcode could not be found. Please check it and try again"
	messageNotUK           = "Please enter a postcode in England, Scotland, Wales or Northern Ireland"
	messageInvalidResponse = "We could not validate this postcode right now. Please try again"
)

const (
	outcomeRequired      = "required"
	outcomeInvalidFormat = "invalid_format"
	outcomeServiceError  = "service_error"
	outcomeCanceled      = "canceled"
)

const (
	MaxBatchSize            = 100
	DefaultBatchConcurrency = 8

	DefaultRecentLimit = 20
	MaxRecentLimit     = 100
)

var (
	ErrBatchTooLarge = fmt.Errorf("batch exceeds %d postcodes", MaxBatchSize)
	ErrAuditDisabled = errors.New("lookup audit log is not configured")
)

// ukCountries are the constituent-country names the registry may return.
var ukCountries = map[string]bool{
	"England":          true,
	"Scotland":         true,
	"Wales":            true,
	"Northern Ireland": true,
}

// PostcodeLookup resolves a canonical postcode against the registry.
type PostcodeLookup interface {
	Lookup(ctx context.Context, postcode string) (*lookup.Result, error)
}

// ResultCache stores definitive results keyed by canonical postcode.
type ResultCache interface {
	Get(ctx context.Context, canonical string) (*models.ValidationResult, bool)
	Put(ctx context.Context, canonical string, result *models.ValidationResult)
}

// EventPublisher appends lookup events to a stream.
type EventPublisher interface {
	Publish(ctx context.Context, stream, eventType string, data any) error
}

// LookupLister reads the lookup audit log.
type LookupLister interface {
	ListRecent(ctx context.Context, limit int) ([]models.LookupRecord, error)
}

// Options configures the optional collaborators of PostcodeQueryService.
// Any nil collaborator is skipped.
type Options struct {
	Cache            ResultCache
	Publisher        EventPublisher
	Lookups          LookupLister
	Metrics          *telemetry.LookupMetrics
	BatchConcurrency int
}

// PostcodeQueryService validates postcodes: a local format check followed by
// one registry lookup, optionally served from the result cache.
type PostcodeQueryService struct {
	lookup           PostcodeLookup
	cache            ResultCache
	publisher        EventPublisher
	lookups          LookupLister
	metrics          *telemetry.LookupMetrics
	batchConcurrency int
	inflight         singleflight.Group
}

func NewPostcodeQueryService(lookup PostcodeLookup, opts Options) *PostcodeQueryService {
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = DefaultBatchConcurrency
	}
	return &PostcodeQueryService{
		lookup:           lookup,
		cache:            opts.Cache,
		publisher:        opts.Publisher,
		lookups:          opts.Lookups,
		metrics:          opts.Metrics,
		batchConcurrency: opts.BatchConcurrency,
	}
}

// Validate runs the full pipeline for one raw postcode. Every input problem
// is reported in the returned result; the error is non-nil only for a
// *lookup.ServiceError. A caller whose ctx ends first gets a ServiceError
// wrapping ctx.Err() while the shared lookup completes for everyone else.
func (s *PostcodeQueryService) Validate(ctx context.Context, q cqrs.ValidatePostcodeQuery) (*models.ValidationResult, error) {
	raw := q.Postcode

	if strings.TrimSpace(raw) == "" {
		s.metrics.ObserveOutcome(outcomeRequired)
		return invalid(raw, ReasonRequired, messageRequired), nil
	}
	if !postcode.CheckFormat(raw) {
		s.metrics.ObserveOutcome(outcomeInvalidFormat)
		return invalid(raw, ReasonInvalidFormat, messageInvalidFormat), nil
	}

	canonical := postcode.Canonicalize(raw)

	if s.cache != nil {
		cached, ok := s.cache.Get(ctx, canonical)
		s.metrics.ObserveCache(ok)
		if ok {
			cached.Postcode = raw
			s.finish(ctx, cached, true)
			return cached, nil
		}
	}

	// The shared lookup outlives any one caller; the registry client's
	// timeout bounds it.
	shared := s.inflight.DoChan(canonical, func() (any, error) {
		return s.resolve(context.WithoutCancel(ctx), canonical)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		s.metrics.ObserveOutcome(outcomeCanceled)
		return nil, &lookup.ServiceError{Op: "lookup", Err: ctx.Err()}
	case res = <-shared:
	}
	if res.Err != nil {
		s.metrics.ObserveOutcome(outcomeServiceError)
		return nil, res.Err
	}

	// The shared result may be handed to several callers.
	result := *res.Val.(*models.ValidationResult)
	result.Postcode = raw
	s.finish(ctx, &result, false)
	return &result, nil
}

// resolve performs the registry call for a canonical postcode and caches
// the definitive outcomes.
func (s *PostcodeQueryService) resolve(ctx context.Context, canonical string) (*models.ValidationResult, error) {
	started := time.Now()
	res, err := s.lookup.Lookup(ctx, canonical)

	var result *models.ValidationResult
	switch {
	case errors.Is(err, lookup.ErrNotFound):
		s.metrics.ObserveUpstream("not_found", started)
		result = invalid(canonical, ReasonNotFound, messageNotFound)
	case errors.Is(err, lookup.ErrMissingResult):
		s.metrics.ObserveUpstream("invalid_response", started)
		slog.Warn("postcode registry returned no result", "postcode", canonical)
		return invalid(canonical, ReasonInvalidResponse, messageInvalidResponse), nil
	case err != nil:
		s.metrics.ObserveUpstream("error", started)
		var svcErr *lookup.ServiceError
		if !errors.As(err, &svcErr) {
			err = &lookup.ServiceError{Op: "lookup", Err: err}
		}
		slog.Error("postcode registry lookup failed", "postcode", canonical, "error", err)
		return nil, err
	default:
		s.metrics.ObserveUpstream("ok", started)
		result = fromLookup(canonical, res)
		if result.Error == ReasonInvalidResponse {
			slog.Warn("postcode registry result missing outcode/incode", "postcode", canonical)
			return result, nil
		}
	}

	if s.cache != nil {
		s.cache.Put(ctx, canonical, result)
	}
	return result, nil
}

// fromLookup turns a registry record into a result, rejecting non-UK
// countries and collapsing the UK ones into CountryGB.
func fromLookup(canonical string, res *lookup.Result) *models.ValidationResult {
	if !ukCountries[res.Country] {
		return invalid(canonical, ReasonNotUK, messageNotUK)
	}

	outward := strings.ToUpper(strings.TrimSpace(res.Outcode))
	inward := strings.ToUpper(strings.TrimSpace(res.Incode))
	components, err := postcode.Decompose(outward + " " + inward)
	if err != nil {
		return invalid(canonical, ReasonInvalidResponse, messageInvalidResponse)
	}

	result := &models.ValidationResult{
		IsValid:           true,
		Postcode:          canonical,
		FormattedPostcode: components.String(),
		Components:        &components,
		Country:           models.CountryGB,
		Region:            res.Region,
		City:              res.AdminDistrict,
	}
	if res.Latitude != nil && res.Longitude != nil {
		result.Coordinates = &models.Coordinates{
			Latitude:  *res.Latitude,
			Longitude: *res.Longitude,
		}
	}
	return result
}

func (s *PostcodeQueryService) finish(ctx context.Context, result *models.ValidationResult, cached bool) {
	outcome := outcomeOf(result)
	s.metrics.ObserveOutcome(outcome)

	if s.publisher == nil {
		return
	}
	eventType := events.PostcodeRejected
	if result.IsValid {
		eventType = events.PostcodeValidated
	}
	formatted := result.FormattedPostcode
	if formatted == "" {
		formatted = postcode.Canonicalize(result.Postcode)
	}
	var region string
	if r, ok := postcode.RegionOf(result.Area()); ok {
		region = string(r)
	}
	err := s.publisher.Publish(ctx, events.PostcodeEventsStream, eventType, events.PostcodeLookupEvent{
		Postcode:          result.Postcode,
		FormattedPostcode: formatted,
		Outcome:           outcome,
		Area:              result.Area(),
		Region:            region,
		Cached:            cached,
	})
	if err != nil {
		slog.Warn("failed to publish postcode event", "type", eventType, "error", err)
	}
}

// CheckRegion validates the postcode and reports whether its area belongs
// to the requested region. Region names match case-insensitively; unknown
// names are never matched.
func (s *PostcodeQueryService) CheckRegion(ctx context.Context, q cqrs.CheckRegionQuery) (*models.RegionCheck, error) {
	result, err := s.Validate(ctx, cqrs.ValidatePostcodeQuery{Postcode: q.Postcode})
	if err != nil {
		return nil, err
	}

	check := &models.RegionCheck{
		Postcode: q.Postcode,
		Region:   q.Region,
	}
	if !result.IsValid {
		check.Error = result.Error
		check.Message = result.Message
		return check, nil
	}

	region := postcode.Region(strings.TrimSpace(q.Region))
	if r, ok := postcode.ParseRegion(q.Region); ok {
		region = r
		check.Region = string(r)
	}
	check.Area = result.Area()
	check.City = result.City
	check.IsInRegion = postcode.ClassifyRegion(check.Area, region)
	return check, nil
}

// ValidateBatch validates each postcode concurrently and returns results in
// input order. A registry failure on any item fails the batch.
func (s *PostcodeQueryService) ValidateBatch(ctx context.Context, q cqrs.ValidateBatchQuery) ([]models.ValidationResult, error) {
	if len(q.Postcodes) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	results := make([]models.ValidationResult, len(q.Postcodes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchConcurrency)
	for i, raw := range q.Postcodes {
		g.Go(func() error {
			r, err := s.Validate(gctx, cqrs.ValidatePostcodeQuery{Postcode: raw})
			if err != nil {
				return err
			}
			results[i] = *r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ListRecentLookups reads the newest audit log rows. The limit is clamped
// to [1, MaxRecentLimit], with 0 meaning DefaultRecentLimit.
func (s *PostcodeQueryService) ListRecentLookups(ctx context.Context, q cqrs.ListRecentLookupsQuery) ([]models.LookupRecord, error) {
	if s.lookups == nil {
		return nil, ErrAuditDisabled
	}
	limit := q.Limit
	switch {
	case limit <= 0:
		limit = DefaultRecentLimit
	case limit > MaxRecentLimit:
		limit = MaxRecentLimit
	}
	return s.lookups.ListRecent(ctx, limit)
}

func invalid(raw, reason, message string) *models.ValidationResult {
	return &models.ValidationResult{
		IsValid:  false,
		Postcode: raw,
		Error:    reason,
		Message:  message,
	}
}

func outcomeOf(r *models.ValidationResult) string {
	switch r.Error {
	case "":
		return models.OutcomeValid
	case ReasonNotFound:
		return models.OutcomeNotFound
	case ReasonNotUK:
		return models.OutcomeNotUK
	case ReasonInvalidResponse:
		return models.OutcomeInvalidResponse
	default:
		return r.Error
	}
}
