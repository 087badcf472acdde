package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"instaq/internal/apperr"
	"instaq/internal/auth"
	"instaq/internal/logging"
	"instaq/internal/metrics"
	"instaq/internal/queue"
	"instaq/internal/store"
)

var (
	staff = &auth.Principal{ID: "staff-1", Role: auth.RoleStaff}
	admin = &auth.Principal{ID: "admin-1", Role: auth.RoleAdmin}
)

type stubDirectory map[string]auth.Principal

func (d stubDirectory) Lookup(_ context.Context, id string) (auth.Principal, error) {
	p, ok := d[id]
	if !ok {
		return auth.Principal{}, apperr.ErrNotFound
	}
	return p, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt queue.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	svc     *Service
	repo    *Repository
	events  *recordingPublisher
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db, err := store.NewDB(store.DriverSQLite, filepath.Join(t.TempDir(), "attendance.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	repo := NewRepository(db)
	events := &recordingPublisher{}
	m := metrics.New(nil)
	svc := NewService(repo, Options{
		Directory: stubDirectory{
			"staff-1": {ID: "staff-1", Name: "Staff User", Email: "staff@instaq.com", Role: auth.RoleStaff},
			"admin-1": {ID: "admin-1", Name: "Admin User", Email: "admin@instaq.com", Role: auth.RoleAdmin},
		},
		Events:  events,
		Metrics: m,
		Logger:  logging.Discard(),
	})
	return fixture{svc: svc, repo: repo, events: events, metrics: m}
}

func scanBody(date string, members ...FamilyMember) []byte {
	body, _ := json.Marshal(map[string]any{
		"qrCodeData": map[string]any{
			"type":          "attendance",
			"date":          date,
			"time":          "09:30",
			"familyMembers": members,
		},
	})
	return body
}

func doeFamily() []FamilyMember {
	return []FamilyMember{
		{Name: "John Doe", Age: 35, IsChild: false},
		{Name: "Baby Doe", Age: 5, IsChild: true},
	}
}

func (f fixture) count(t *testing.T) int {
	t.Helper()
	n, err := f.repo.Count(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	return n
}

func TestCreateThenStatsEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.Create(ctx, staff, scanBody("2026-10-11", doeFamily()...), DeviceInfo{UserAgent: "expo", IPAddress: "10.0.0.7"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if rec.TotalMembers() != 2 || rec.AdultsCount() != 1 || rec.ChildrenCount() != 1 {
		t.Errorf("summary = %+v", rec.Summary())
	}
	if rec.Status != StatusConfirmed {
		t.Errorf("status = %q, want confirmed", rec.Status)
	}
	if rec.ScannedBy.ID != staff.ID || rec.ScannedAt.IsZero() {
		t.Errorf("ownership not recorded: %+v", rec)
	}

	stats, err := f.svc.Stats(ctx, staff, Filter{})
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	want := Stats{TotalScans: 1, TotalMembers: 2, TotalAdults: 1, TotalChildren: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}

	if got := f.events.types(); !reflect.DeepEqual(got, []string{queue.EventScanned}) {
		t.Errorf("events = %v", got)
	}
	if got := testutil.ToFloat64(f.metrics.MembersRecorded.WithLabelValues("child")); got != 1 {
		t.Errorf("children metric = %v", got)
	}
}

func TestCreateCountsMatchInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for n := 1; n <= 6; n++ {
		members := make([]FamilyMember, n)
		children := 0
		for i := range members {
			members[i] = FamilyMember{Name: fmt.Sprintf("Member %d", i), Age: 10 * i, IsChild: i%2 == 1}
			if members[i].IsChild {
				children++
			}
		}
		before := f.count(t)
		rec, err := f.svc.Create(ctx, staff, scanBody("2026-10-11", members...), DeviceInfo{})
		if err != nil {
			t.Fatalf("Create(%d members) failed: %v", n, err)
		}
		if f.count(t) != before+1 {
			t.Errorf("expected exactly one new record for %d members", n)
		}
		if rec.TotalMembers() != n || rec.ChildrenCount() != children || rec.AdultsCount()+rec.ChildrenCount() != rec.TotalMembers() {
			t.Errorf("n=%d: summary %+v", n, rec.Summary())
		}
		stored, err := f.svc.Get(ctx, staff, rec.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !reflect.DeepEqual(stored.QRCodeData.FamilyMembers, members) {
			t.Errorf("members not stored in order: %+v", stored.QRCodeData.FamilyMembers)
		}
	}
}

func TestCreateRejectsEmptyFamily(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), staff, scanBody("2026-10-11"), DeviceInfo{})
	if _, ok := apperr.AsValidation(err); !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
	if n := f.count(t); n != 0 {
		t.Errorf("store size = %d, want 0", n)
	}
	if got := testutil.ToFloat64(f.metrics.ValidationFailures.WithLabelValues("create")); got != 1 {
		t.Errorf("validation failures = %v", got)
	}
	if len(f.events.types()) != 0 {
		t.Error("no event should be published for a rejected scan")
	}
}

func TestCreateRejectsNegativeAge(t *testing.T) {
	f := newFixture(t)
	body := scanBody("2026-10-11", FamilyMember{Name: "Ok", Age: 30}, FamilyMember{Name: "Bad", Age: -2})
	_, err := f.svc.Create(context.Background(), staff, body, DeviceInfo{})
	verr, ok := apperr.AsValidation(err)
	if !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(verr.Violations) != 1 || verr.Violations[0].Field != "qrCodeData.familyMembers[1].age" {
		t.Errorf("violations = %+v", verr.Violations)
	}
	if n := f.count(t); n != 0 {
		t.Errorf("store size = %d, want 0", n)
	}
}

func TestCreateRequiresPrincipal(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), nil, scanBody("2026-10-11", doeFamily()...), DeviceInfo{})
	if !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestRepositoryInsertRefusesEmptyFamily(t *testing.T) {
	f := newFixture(t)
	err := f.repo.Insert(context.Background(), Record{ID: "r1", QRCodeData: QRCodeData{Type: QRType, Date: "d", Time: "t"}})
	if _, ok := apperr.AsValidation(err); !ok {
		t.Errorf("expected validation error, got %v", err)
	}
	if n := f.count(t); n != 0 {
		t.Errorf("store size = %d, want 0", n)
	}
}

func TestGetIsStable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.svc.Create(ctx, staff, scanBody("2026-10-11", doeFamily()...), DeviceInfo{UserAgent: "ua"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	first, err := f.svc.Get(ctx, admin, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	second, err := f.svc.Get(ctx, staff, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("reads differ:\n%+v\n%+v", first, second)
	}
	if first.ScannedBy.Name != "Staff User" || first.ScannedBy.Email != "staff@instaq.com" {
		t.Errorf("scanner not attributed: %+v", first.ScannedBy)
	}
	if !first.ScannedAt.Equal(rec.ScannedAt) {
		t.Errorf("scannedAt changed: %v vs %v", first.ScannedAt, rec.ScannedAt)
	}

	if _, err := f.svc.Get(ctx, staff, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get missing: got %v", err)
	}
}

func TestListPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 11, 8, 0, 0, 0, time.UTC)
	tick := 0
	f.svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	for i := 0; i < 15; i++ {
		if _, err := f.svc.Create(ctx, staff, scanBody("2026-10-11", FamilyMember{Name: fmt.Sprintf("M%d", i), Age: 20}), DeviceInfo{}); err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
	}

	page1, err := f.svc.List(ctx, staff, Filter{}, 1, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page1.Records) != 10 || !page1.Pagination.HasNextPage || page1.Pagination.HasPrevPage {
		t.Errorf("page 1: %d records, %+v", len(page1.Records), page1.Pagination)
	}
	if page1.Records[0].QRCodeData.FamilyMembers[0].Name != "M14" {
		t.Errorf("expected most recent first, got %s", page1.Records[0].QRCodeData.FamilyMembers[0].Name)
	}

	page2, err := f.svc.List(ctx, staff, Filter{}, 2, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := Pagination{CurrentPage: 2, PageSize: 10, TotalPages: 2, TotalRecords: 15, HasNextPage: false, HasPrevPage: true}
	if len(page2.Records) != 5 || page2.Pagination != want {
		t.Errorf("page 2: %d records, %+v", len(page2.Records), page2.Pagination)
	}
	for i := 1; i < len(page2.Records); i++ {
		if page2.Records[i].ScannedAt.After(page2.Records[i-1].ScannedAt) {
			t.Errorf("page 2 not in descending scannedAt order")
		}
	}

	defaults, err := f.svc.List(ctx, staff, Filter{}, 0, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if defaults.Pagination.CurrentPage != 1 || defaults.Pagination.PageSize != 10 {
		t.Errorf("defaults not applied: %+v", defaults.Pagination)
	}

	beyond, err := f.svc.List(ctx, staff, Filter{}, 5, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(beyond.Records) != 0 || beyond.Records == nil {
		t.Errorf("page past the end should be empty, got %v", beyond.Records)
	}
}

func TestListAndStatsFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustCreate := func(date string, members ...FamilyMember) Record {
		rec, err := f.svc.Create(ctx, staff, scanBody(date, members...), DeviceInfo{})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		return rec
	}
	mustCreate("2026-10-04", FamilyMember{Name: "A", Age: 40}, FamilyMember{Name: "B", Age: 8, IsChild: true}, FamilyMember{Name: "C", Age: 6, IsChild: true})
	sunday := mustCreate("2026-10-11", FamilyMember{Name: "D", Age: 50})
	mustCreate("2026-10-11", FamilyMember{Name: "E", Age: 33}, FamilyMember{Name: "F", Age: 31})

	if _, err := f.svc.UpdateStatus(ctx, admin, sunday.ID, StatusRejected, nil); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	byDate, err := f.svc.List(ctx, staff, Filter{Date: "2026-10-11"}, 1, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if byDate.Pagination.TotalRecords != 2 {
		t.Errorf("date filter matched %d", byDate.Pagination.TotalRecords)
	}
	rejected, err := f.svc.List(ctx, staff, Filter{Date: "2026-10-11", Status: StatusRejected}, 1, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if rejected.Pagination.TotalRecords != 1 || rejected.Records[0].ID != sunday.ID {
		t.Errorf("status filter: %+v", rejected.Pagination)
	}

	all, err := f.svc.Stats(ctx, staff, Filter{})
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if want := (Stats{TotalScans: 3, TotalMembers: 6, TotalAdults: 4, TotalChildren: 2}); all != want {
		t.Errorf("stats = %+v, want %+v", all, want)
	}
	day, err := f.svc.Stats(ctx, staff, Filter{Date: "2026-10-11"})
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if want := (Stats{TotalScans: 2, TotalMembers: 3, TotalAdults: 3}); day != want {
		t.Errorf("day stats = %+v, want %+v", day, want)
	}
	none, err := f.svc.Stats(ctx, staff, Filter{Date: "1999-01-01"})
	if err != nil {
		t.Fatalf("Stats on empty window failed: %v", err)
	}
	if none != (Stats{}) {
		t.Errorf("expected all zeros, got %+v", none)
	}
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.svc.Create(ctx, staff, scanBody("2026-10-11", doeFamily()...), DeviceInfo{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := f.svc.UpdateStatus(ctx, staff, rec.ID, StatusRejected, nil); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("staff update: got %v", err)
	}
	if _, err := f.svc.UpdateStatus(ctx, staff, "missing", StatusRejected, nil); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("staff update of missing record must not reveal absence, got %v", err)
	}
	unchanged, _ := f.svc.Get(ctx, staff, rec.ID)
	if unchanged.Status != StatusConfirmed {
		t.Errorf("status changed by staff: %q", unchanged.Status)
	}

	if _, err := f.svc.UpdateStatus(ctx, admin, rec.ID, Status("archived"), nil); err == nil {
		t.Error("expected validation error for unknown status")
	} else if _, ok := apperr.AsValidation(err); !ok {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := f.svc.UpdateStatus(ctx, admin, "missing", StatusPending, nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("admin update missing: got %v", err)
	}

	notes := "  left early "
	updated, err := f.svc.UpdateStatus(ctx, admin, rec.ID, StatusRejected, &notes)
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if updated.Status != StatusRejected || updated.Notes != "left early" {
		t.Errorf("update not applied: %+v", updated)
	}
	if !updated.ScannedAt.Equal(rec.ScannedAt) || updated.ScannedBy.ID != rec.ScannedBy.ID {
		t.Error("write-once fields changed")
	}

	// any status may follow any other, and notes stay when omitted
	for _, s := range []Status{StatusConfirmed, StatusPending, StatusRejected, StatusConfirmed} {
		got, err := f.svc.UpdateStatus(ctx, admin, rec.ID, s, nil)
		if err != nil {
			t.Fatalf("transition to %s failed: %v", s, err)
		}
		if got.Status != s || got.Notes != "left early" {
			t.Errorf("after %s: %+v", s, got)
		}
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.svc.Create(ctx, staff, scanBody("2026-10-11", doeFamily()...), DeviceInfo{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := f.svc.Delete(ctx, staff, rec.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("staff delete: got %v", err)
	}
	if err := f.svc.Delete(ctx, admin, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("delete missing: got %v", err)
	}
	if n := f.count(t); n != 1 {
		t.Errorf("store size = %d, want 1", n)
	}

	if err := f.svc.Delete(ctx, admin, rec.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := f.svc.Get(ctx, staff, rec.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get after delete: got %v", err)
	}
	stats, _ := f.svc.Stats(ctx, staff, Filter{})
	if stats != (Stats{}) {
		t.Errorf("members survived delete: %+v", stats)
	}
	if err := f.svc.Delete(ctx, admin, rec.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete: got %v", err)
	}
	want := []string{queue.EventScanned, queue.EventDeleted}
	if got := f.events.types(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestConcurrentCreatesAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Create(ctx, staff, scanBody("2026-10-11", doeFamily()...), DeviceInfo{}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Create failed: %v", err)
	}
	if n := f.count(t); n != 8 {
		t.Errorf("expected 8 independent records, got %d", n)
	}
}

func TestAttributionFallsBackToID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ghost := &auth.Principal{ID: "deleted-user", Role: auth.RoleStaff}
	rec, err := f.svc.Create(ctx, ghost, scanBody("2026-10-11", doeFamily()...), DeviceInfo{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	got, err := f.svc.Get(ctx, staff, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ScannedBy != (auth.Principal{ID: "deleted-user"}) {
		t.Errorf("scannedBy = %+v", got.ScannedBy)
	}
}

func TestRecordJSONIncludesDerivedCounts(t *testing.T) {
	rec := Record{ID: "r1", QRCodeData: QRCodeData{Type: QRType, FamilyMembers: doeFamily()}, Status: StatusConfirmed}
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out["totalMembers"] != float64(2) || out["adultsCount"] != float64(1) || out["childrenCount"] != float64(1) {
		t.Errorf("derived counts missing: %s", b)
	}
	if out["id"] != "r1" || out["status"] != "confirmed" {
		t.Errorf("stored fields missing: %s", b)
	}
}
