package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/membergen/internal/logging"
	"github.com/google/uuid"
)

// MemberRepository persists members and their custom field projections.
type MemberRepository interface {
	Insert(ctx context.Context, m Member) error
	Get(ctx context.Context, id string) (Member, error)
	List(ctx context.Context) ([]Member, error)
	Update(ctx context.Context, id string, patch MemberPatch) (Member, error)
	Delete(ctx context.Context, id string) error
	ExportAll(ctx context.Context) (Table, error)
}

// FieldRegistry persists custom field definitions.
type FieldRegistry interface {
	Create(ctx context.Context, def CustomFieldDefinition) error
	Get(ctx context.Context, id string) (CustomFieldDefinition, error)
	List(ctx context.Context) ([]CustomFieldDefinition, error)
	Update(ctx context.Context, id string, patch FieldPatch) (CustomFieldDefinition, error)
	Delete(ctx context.Context, id string) error
}

// Generation stages reported to a GenerationObserver on failure.
const (
	StageAddress   = "address"
	StageFabricate = "fabricate"
	StageStore     = "store"
)

// GenerationObserver receives generation outcomes, typically for metrics.
type GenerationObserver interface {
	GenerationStarted()
	GenerationFinished()
	MemberGenerated()
	GenerationFailed(stage string)
}

type nopObserver struct{}

func (nopObserver) GenerationStarted()      {}
func (nopObserver) GenerationFinished()     {}
func (nopObserver) MemberGenerated()        {}
func (nopObserver) GenerationFailed(string) {}

// ServiceDeps holds the collaborators of a Service. Members, Fields,
// Addresses and Fabricator are required.
type ServiceDeps struct {
	Members    MemberRepository
	Fields     FieldRegistry
	Addresses  AddressSource
	Fabricator Fabricator
	Limiter    *GenerationLimiter
	Observer   GenerationObserver
	Now        func() time.Time
	NewID      func() string
}

// Service provides the member generation and management use cases.
type Service struct {
	members    MemberRepository
	fields     FieldRegistry
	addresses  AddressSource
	fabricator Fabricator
	limiter    *GenerationLimiter
	observer   GenerationObserver
	now        func() time.Time
	newID      func() string
}

// NewService creates a new Service instance.
func NewService(deps ServiceDeps) (*Service, error) {
	switch {
	case deps.Members == nil:
		return nil, errors.New("core: member repository is required")
	case deps.Fields == nil:
		return nil, errors.New("core: field registry is required")
	case deps.Addresses == nil:
		return nil, errors.New("core: address source is required")
	case deps.Fabricator == nil:
		return nil, errors.New("core: fabricator is required")
	}

	s := &Service{
		members:    deps.Members,
		fields:     deps.Fields,
		addresses:  deps.Addresses,
		fabricator: deps.Fabricator,
		limiter:    deps.Limiter,
		observer:   deps.Observer,
		now:        deps.Now,
		newID:      deps.NewID,
	}
	if s.limiter == nil {
		s.limiter = NewGenerationLimiter(DefaultMaxConcurrentGenerations, DefaultMaxWaitTime)
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.New().String() }
	}
	return s, nil
}

// Limiter exposes the generation limiter for status reporting and shutdown.
func (s *Service) Limiter() *GenerationLimiter {
	return s.limiter
}

// Generate fabricates and stores a batch of members.
//
// The address source is queried once for the whole batch; member i receives
// address i. Each member is stored as soon as it is fabricated, so when a
// later fabrication fails the members already stored remain and are returned
// alongside the error.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) ([]Member, error) {
	params, err := req.Normalize()
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	s.observer.GenerationStarted()
	defer s.observer.GenerationFinished()

	logger := logging.WithFields(ctx,
		"city", params.City,
		"country", params.Country,
		"count", req.Count,
	)
	logger.Info("generation started", "min_age", params.MinAge, "max_age", params.MaxAge)
	start := s.now()

	addresses, err := s.addresses.Addresses(ctx, params.City, params.Country, req.Count)
	if err != nil {
		s.observer.GenerationFailed(StageAddress)
		return nil, fmt.Errorf("%w: lookup addresses: %w", ErrUpstream, err)
	}
	if len(addresses) < req.Count {
		logger.Warn("address source returned fewer addresses than requested", "addresses", len(addresses))
	}

	created := make([]Member, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		m, err := s.fabricator.Fabricate(ctx, params)
		if err != nil {
			s.observer.GenerationFailed(StageFabricate)
			logger.Error("generation aborted", "stored", len(created), "error", err)
			return created, fmt.Errorf("%w: fabricate member %d of %d: %w", ErrUpstream, i+1, req.Count, err)
		}

		m.ID = s.newID()
		m.CustomFields = nil
		m.Latitude, m.Longitude = nil, nil
		if i < len(addresses) {
			a := addresses[i]
			lat, lon := a.Latitude, a.Longitude
			m.Address = a.Formatted
			m.Latitude, m.Longitude = &lat, &lon
		}

		if err := s.members.Insert(ctx, m); err != nil {
			s.observer.GenerationFailed(StageStore)
			logger.Error("generation aborted", "stored", len(created), "error", err)
			return created, fmt.Errorf("store member %d of %d: %w", i+1, req.Count, err)
		}
		s.observer.MemberGenerated()
		created = append(created, m)
	}

	logger.Info("generation completed",
		"stored", len(created),
		"duration_ms", s.now().Sub(start).Milliseconds(),
	)
	return created, nil
}

// ListMembers returns every member with its custom field projection.
func (s *Service) ListMembers(ctx context.Context) ([]Member, error) {
	members, err := s.members.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// GetMember returns one member.
func (s *Service) GetMember(ctx context.Context, id string) (Member, error) {
	if err := checkID(id); err != nil {
		return Member{}, err
	}
	return s.members.Get(ctx, id)
}

// UpdateMember applies a partial update and returns the stored result.
func (s *Service) UpdateMember(ctx context.Context, id string, patch MemberPatch) (Member, error) {
	if err := checkID(id); err != nil {
		return Member{}, err
	}
	if patch.IsEmpty() {
		return Member{}, ErrEmptyPatch
	}
	if err := patch.Validate(); err != nil {
		return Member{}, err
	}
	return s.members.Update(ctx, id, patch)
}

// DeleteMember removes a member and its custom field values.
func (s *Service) DeleteMember(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := s.members.Delete(ctx, id); err != nil {
		return err
	}
	logging.FromContext(ctx).Info("member deleted", "member_id", id)
	return nil
}

// ExportMembers returns the flat member table for export formatters.
func (s *Service) ExportMembers(ctx context.Context) (Table, error) {
	t, err := s.members.ExportAll(ctx)
	if err != nil {
		return Table{}, fmt.Errorf("export members: %w", err)
	}
	return t, nil
}

// CreateField defines a new custom field and backfills it for every member.
func (s *Service) CreateField(ctx context.Context, in CustomFieldCreate) (CustomFieldDefinition, error) {
	if err := in.Validate(); err != nil {
		return CustomFieldDefinition{}, err
	}

	rules := in.ValidationRules
	if rules == nil {
		rules = map[string]any{}
	}
	def := CustomFieldDefinition{
		ID:              s.newID(),
		Name:            strings.TrimSpace(in.Name),
		FieldType:       in.FieldType,
		ValidationRules: rules,
		CreatedAt:       s.now().UTC().Truncate(time.Microsecond),
	}
	if err := s.fields.Create(ctx, def); err != nil {
		return CustomFieldDefinition{}, err
	}

	logging.FromContext(ctx).Info("custom field created",
		"field_id", def.ID,
		"name", def.Name,
		"field_type", def.FieldType,
	)
	return def, nil
}

// ListFields returns every custom field definition.
func (s *Service) ListFields(ctx context.Context) ([]CustomFieldDefinition, error) {
	defs, err := s.fields.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list custom fields: %w", err)
	}
	return defs, nil
}

// GetField returns one custom field definition.
func (s *Service) GetField(ctx context.Context, id string) (CustomFieldDefinition, error) {
	if err := checkID(id); err != nil {
		return CustomFieldDefinition{}, err
	}
	return s.fields.Get(ctx, id)
}

// UpdateField renames a field and/or replaces its validation rules.
func (s *Service) UpdateField(ctx context.Context, id string, patch FieldPatch) (CustomFieldDefinition, error) {
	if err := checkID(id); err != nil {
		return CustomFieldDefinition{}, err
	}
	if patch.IsEmpty() {
		return CustomFieldDefinition{}, ErrEmptyPatch
	}
	if err := patch.Validate(); err != nil {
		return CustomFieldDefinition{}, err
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		patch.Name = &name
	}
	return s.fields.Update(ctx, id, patch)
}

// DeleteField removes a field definition and all of its values.
func (s *Service) DeleteField(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := s.fields.Delete(ctx, id); err != nil {
		return err
	}
	logging.FromContext(ctx).Info("custom field deleted", "field_id", id)
	return nil
}

// checkID rejects identifiers that cannot name a stored record.
func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("id %q: %w", id, ErrNotFound)
	}
	return nil
}
