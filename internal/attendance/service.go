package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"instaq/internal/apperr"
	"instaq/internal/auth"
	"instaq/internal/logging"
	"instaq/internal/metrics"
	"instaq/internal/queue"
)

const publishTimeout = 2 * time.Second

// Directory resolves principal ids for attribution on read.
type Directory interface {
	Lookup(ctx context.Context, id string) (auth.Principal, error)
}

// Publisher receives record lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, evt queue.Event) error
}

// Options configures a Service. Only the repository is mandatory.
type Options struct {
	Directory       Directory
	Events          Publisher
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
	DefaultPageSize int
	MaxPageSize     int
}

// Service runs attendance operations: it authorizes the caller, validates
// input, persists through the repository and reports what happened.
type Service struct {
	repo            *Repository
	directory       Directory
	events          Publisher
	metrics         *metrics.Metrics
	logger          *slog.Logger
	defaultPageSize int
	maxPageSize     int
	now             func() time.Time
}

// NewService creates a service backed by a repository.
func NewService(repo *Repository, opts Options) *Service {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 10
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = 100
	}
	if opts.MaxPageSize < opts.DefaultPageSize {
		opts.MaxPageSize = opts.DefaultPageSize
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		repo:            repo,
		directory:       opts.Directory,
		events:          opts.Events,
		metrics:         opts.Metrics,
		logger:          opts.Logger,
		defaultPageSize: opts.DefaultPageSize,
		maxPageSize:     opts.MaxPageSize,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Create validates a scan request body and stores it as a confirmed record
// owned by caller. Nothing is stored when validation fails.
func (s *Service) Create(ctx context.Context, caller *auth.Principal, body []byte, device DeviceInfo) (Record, error) {
	if err := auth.Authorize(caller, auth.OpCreate); err != nil {
		return Record{}, err
	}
	sub, err := ValidateSubmission(body)
	if err != nil {
		s.metrics.ValidationFailures.WithLabelValues(string(auth.OpCreate)).Inc()
		return Record{}, err
	}

	now := s.now()
	rec := Record{
		ID:         uuid.NewString(),
		QRCodeData: sub.QRCodeData,
		ScannedBy:  *caller,
		ScannedAt:  now,
		Location:   sub.Location,
		DeviceInfo: device,
		Status:     StatusConfirmed,
		Notes:      sub.Notes,
		UpdatedAt:  now,
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("store scan: %w", err)
	}

	s.metrics.ScansRecorded.Inc()
	s.metrics.MembersRecorded.WithLabelValues("adult").Add(float64(rec.AdultsCount()))
	s.metrics.MembersRecorded.WithLabelValues("child").Add(float64(rec.ChildrenCount()))
	s.publish(ctx, queue.Event{
		Type:     queue.EventScanned,
		RecordID: rec.ID,
		ActorID:  caller.ID,
		Status:   string(rec.Status),
		Members:  rec.TotalMembers(),
		Children: rec.ChildrenCount(),
		At:       now,
	})
	s.log(ctx).Info("attendance scan recorded",
		"record_id", rec.ID, "scanned_by", caller.ID, "date", rec.QRCodeData.Date,
		"members", rec.TotalMembers(), "children", rec.ChildrenCount())
	return rec, nil
}

// Get returns one record.
func (s *Service) Get(ctx context.Context, caller *auth.Principal, id string) (Record, error) {
	if err := auth.Authorize(caller, auth.OpGet); err != nil {
		return Record{}, err
	}
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	recs := []Record{rec}
	s.attribute(ctx, recs)
	return recs[0], nil
}

// List returns a page of records matching f. page is 1-based; non-positive
// values fall back to the first page and the default size.
func (s *Service) List(ctx context.Context, caller *auth.Principal, f Filter, page, pageSize int) (Page, error) {
	if err := auth.Authorize(caller, auth.OpList); err != nil {
		return Page{}, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = s.defaultPageSize
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}

	total, err := s.repo.Count(ctx, f)
	if err != nil {
		return Page{}, fmt.Errorf("count records: %w", err)
	}
	recs, err := s.repo.List(ctx, f, pageSize, (page-1)*pageSize)
	if err != nil {
		return Page{}, fmt.Errorf("list records: %w", err)
	}
	s.attribute(ctx, recs)

	return Page{
		Records: recs,
		Pagination: Pagination{
			CurrentPage:  page,
			PageSize:     pageSize,
			TotalPages:   (total + pageSize - 1) / pageSize,
			TotalRecords: total,
			HasNextPage:  page*pageSize < total,
			HasPrevPage:  page > 1,
		},
	}, nil
}

// UpdateStatus sets a new status, and notes when given. Any status may
// replace any other.
func (s *Service) UpdateStatus(ctx context.Context, caller *auth.Principal, id string, status Status, notes *string) (Record, error) {
	if err := auth.Authorize(caller, auth.OpUpdateStatus); err != nil {
		return Record{}, err
	}
	if !status.Valid() {
		s.metrics.ValidationFailures.WithLabelValues(string(auth.OpUpdateStatus)).Inc()
		return Record{}, apperr.Invalid("status", "Invalid status")
	}
	if notes != nil {
		trimmed := strings.TrimSpace(*notes)
		notes = &trimmed
	}

	now := s.now()
	if err := s.repo.UpdateStatus(ctx, id, status, notes, now); err != nil {
		return Record{}, err
	}
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	recs := []Record{rec}
	s.attribute(ctx, recs)

	s.metrics.StatusChanges.WithLabelValues(string(status)).Inc()
	s.publish(ctx, queue.Event{Type: queue.EventStatusChanged, RecordID: id, ActorID: caller.ID, Status: string(status), At: now})
	s.log(ctx).Info("attendance status updated", "record_id", id, "status", status, "by", caller.ID)
	return recs[0], nil
}

// Delete removes a record permanently.
func (s *Service) Delete(ctx context.Context, caller *auth.Principal, id string) error {
	if err := auth.Authorize(caller, auth.OpDelete); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.metrics.RecordsDeleted.Inc()
	s.publish(ctx, queue.Event{Type: queue.EventDeleted, RecordID: id, ActorID: caller.ID, At: s.now()})
	s.log(ctx).Info("attendance record deleted", "record_id", id, "by", caller.ID)
	return nil
}

// Stats aggregates the records matching the date in f. Status is ignored.
func (s *Service) Stats(ctx context.Context, caller *auth.Principal, f Filter) (Stats, error) {
	if err := auth.Authorize(caller, auth.OpStats); err != nil {
		return Stats{}, err
	}
	st, err := s.repo.Stats(ctx, f.Date)
	if err != nil {
		return Stats{}, fmt.Errorf("aggregate: %w", err)
	}
	return st, nil
}

// attribute fills scannedBy with the directory profile. Scanners that no
// longer exist keep their bare id.
func (s *Service) attribute(ctx context.Context, recs []Record) {
	if s.directory == nil {
		return
	}
	seen := make(map[string]auth.Principal)
	for i := range recs {
		id := recs[i].ScannedBy.ID
		p, ok := seen[id]
		if !ok {
			var err error
			p, err = s.directory.Lookup(ctx, id)
			if err != nil {
				if !errors.Is(err, apperr.ErrNotFound) {
					s.log(ctx).Warn("scanner lookup failed", "user_id", id, "error", err)
				}
				p = auth.Principal{ID: id}
			}
			seen[id] = p
		}
		recs[i].ScannedBy = p
	}
}

func (s *Service) publish(ctx context.Context, evt queue.Event) {
	if s.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, evt); err != nil {
		s.log(ctx).Warn("queue publish failed", "type", evt.Type, "record_id", evt.RecordID, "error", err)
	}
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}
