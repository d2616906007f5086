package ranges

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sms-range-relay/internal/domain"
)

type fakeAccess struct {
	roles map[domain.AccessRole][]int64
	lists int
}

func (f *fakeAccess) ListUserIDs(_ context.Context, role domain.AccessRole) ([]int64, error) {
	f.lists++
	return f.roles[role], nil
}

func (f *fakeAccess) AddUser(_ context.Context, userID int64, role domain.AccessRole) error {
	f.roles[role] = append(f.roles[role], userID)
	return nil
}

func (f *fakeAccess) RemoveUser(_ context.Context, userID int64, role domain.AccessRole) error {
	kept := f.roles[role][:0]
	for _, id := range f.roles[role] {
		if id != userID {
			kept = append(kept, id)
		}
	}
	f.roles[role] = kept
	return nil
}

type fakeAssignments struct {
	items []domain.RangeAssignment
}

func (f *fakeAssignments) ListAssignments(context.Context) ([]domain.RangeAssignment, error) {
	return f.items, nil
}

func (f *fakeAssignments) UserAssignment(_ context.Context, userID int64) (domain.RangeAssignment, bool, error) {
	for _, a := range f.items {
		if a.UserID == userID {
			return a, true, nil
		}
	}
	return domain.RangeAssignment{}, false, nil
}

func (f *fakeAssignments) CreateAssignment(_ context.Context, a domain.RangeAssignment) error {
	f.items = append(f.items, a)
	return nil
}

func (f *fakeAssignments) DeleteAssignment(_ context.Context, userID int64, rangeName string) error {
	kept := f.items[:0]
	for _, a := range f.items {
		if a.UserID != userID || a.RangeName != rangeName {
			kept = append(kept, a)
		}
	}
	f.items = kept
	return nil
}

func (f *fakeAssignments) DeleteAllAssignments(context.Context) error {
	f.items = nil
	return nil
}

type fakeCache struct {
	values map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{values: map[string][]byte{}} }

func (f *fakeCache) Once(key string, _ time.Duration, fn func() error) error {
	if _, ok := f.values[key]; ok {
		return nil
	}
	f.values[key] = []byte("1")
	return fn()
}

func (f *fakeCache) Set(key string, value []byte, _ time.Duration) error {
	f.values[key] = value
	return nil
}

func (f *fakeCache) Get(key string) ([]byte, error) {
	value, ok := f.values[key]
	if !ok {
		return nil, errors.New("cache miss")
	}
	return value, nil
}

func (f *fakeCache) Invalidate(key string) error {
	delete(f.values, key)
	return nil
}

type fakeQueue struct {
	jobs []domain.RangeJob
}

func (f *fakeQueue) Enqueue(_ context.Context, job domain.RangeJob) error {
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeQueue) Receive(ctx context.Context) (domain.RangeJob, domain.RangeAckFunc, error) {
	<-ctx.Done()
	return domain.RangeJob{}, nil, ctx.Err()
}

func newTestService(access *fakeAccess, assignments *fakeAssignments, queue *fakeQueue, cache *fakeCache) *Service {
	return NewService(access, assignments, nil, queue, cache, zerolog.Nop())
}

func TestAccessSetUsesCache(t *testing.T) {
	access := &fakeAccess{roles: map[domain.AccessRole][]int64{
		domain.RoleAdmin:    {1},
		domain.RoleApproved: {2, 3},
		domain.RoleBanned:   {4},
	}}
	svc := newTestService(access, &fakeAssignments{}, &fakeQueue{}, newFakeCache())

	set, err := svc.AccessSet(context.Background())
	if err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	if !set.IsAdmin(1) || !set.MayUse(2) || set.MayUse(4) {
		t.Fatalf("unexpected access set: %+v", set)
	}
	loads := access.lists

	if _, err := svc.AccessSet(context.Background()); err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if access.lists != loads {
		t.Fatalf("second call must come from cache, repo hit %d extra times", access.lists-loads)
	}
}

func TestGrantInvalidatesAccessCache(t *testing.T) {
	access := &fakeAccess{roles: map[domain.AccessRole][]int64{}}
	cache := newFakeCache()
	svc := newTestService(access, &fakeAssignments{}, &fakeQueue{}, cache)

	if _, err := svc.AccessSet(context.Background()); err != nil {
		t.Fatalf("warmup failed: %v", err)
	}
	if err := svc.Grant(context.Background(), 42, domain.RoleApproved); err != nil {
		t.Fatalf("grant failed: %v", err)
	}

	set, err := svc.AccessSet(context.Background())
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !set.MayUse(42) {
		t.Fatalf("granted user must be visible after cache invalidation")
	}
}

func TestRequestClaimSecondRangeNeedsConfirm(t *testing.T) {
	assignments := &fakeAssignments{items: []domain.RangeAssignment{
		{UserID: 7, RangeName: "US-Old", TerminationID: "t1"},
	}}
	queue := &fakeQueue{}
	svc := newTestService(&fakeAccess{roles: map[domain.AccessRole][]int64{}}, assignments, queue, newFakeCache())

	decision, err := svc.RequestClaim(context.Background(), 7, 700, "US-New", false)
	if err != nil {
		t.Fatalf("claim request failed: %v", err)
	}
	if decision.Existing == nil || decision.Existing.RangeName != "US-Old" {
		t.Fatalf("expected confirmation against the existing range, got %+v", decision)
	}
	if len(queue.jobs) != 0 {
		t.Fatalf("nothing must be queued before confirmation")
	}
}

func TestRequestClaimAdminSkipsOneRangeRule(t *testing.T) {
	assignments := &fakeAssignments{items: []domain.RangeAssignment{
		{UserID: 1, RangeName: "US-Old", TerminationID: "t1"},
	}}
	queue := &fakeQueue{}
	svc := newTestService(&fakeAccess{roles: map[domain.AccessRole][]int64{}}, assignments, queue, newFakeCache())

	decision, err := svc.RequestClaim(context.Background(), 1, 100, "US-New", true)
	if err != nil {
		t.Fatalf("claim request failed: %v", err)
	}
	if decision.JobID == "" || decision.Existing != nil {
		t.Fatalf("admin claim must queue immediately, got %+v", decision)
	}
	if len(queue.jobs) != 1 || queue.jobs[0].Action != domain.RangeJobClaim {
		t.Fatalf("unexpected queue content: %+v", queue.jobs)
	}
}

func TestConfirmReplaceQueuesReleaseThenClaim(t *testing.T) {
	queue := &fakeQueue{}
	svc := newTestService(&fakeAccess{roles: map[domain.AccessRole][]int64{}}, &fakeAssignments{}, queue, newFakeCache())

	if err := svc.ConfirmReplace(context.Background(), 7, 700, "US-Old", "US-New"); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if len(queue.jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(queue.jobs))
	}
	if queue.jobs[0].Action != domain.RangeJobRelease || queue.jobs[0].RangeName != "US-Old" {
		t.Fatalf("release must go first: %+v", queue.jobs[0])
	}
	if queue.jobs[1].Action != domain.RangeJobClaim || queue.jobs[1].RangeName != "US-New" {
		t.Fatalf("claim must go second: %+v", queue.jobs[1])
	}
	if queue.jobs[0].ID == queue.jobs[1].ID || queue.jobs[0].ID == "" {
		t.Fatalf("jobs must carry distinct non-empty ids")
	}
}

func TestEnqueueSuppressesWebhookReplays(t *testing.T) {
	queue := &fakeQueue{}
	svc := newTestService(&fakeAccess{roles: map[domain.AccessRole][]int64{}}, &fakeAssignments{}, queue, newFakeCache())

	// вебхук доставил одну и ту же команду дважды
	if _, err := svc.RequestClaim(context.Background(), 1, 100, "US-Verizon", true); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if _, err := svc.RequestClaim(context.Background(), 1, 100, "US-Verizon", true); err != nil {
		t.Fatalf("replayed claim failed: %v", err)
	}
	if len(queue.jobs) != 1 {
		t.Fatalf("replay must not enqueue a second job, got %d", len(queue.jobs))
	}

	// другой диапазон — другая команда, она проходит
	if _, err := svc.RequestClaim(context.Background(), 1, 100, "US-ATT", true); err != nil {
		t.Fatalf("distinct claim failed: %v", err)
	}
	if len(queue.jobs) != 2 {
		t.Fatalf("distinct range must be queued, got %d jobs", len(queue.jobs))
	}
}

func TestRequestReleaseForeignRange(t *testing.T) {
	assignments := &fakeAssignments{items: []domain.RangeAssignment{
		{UserID: 7, RangeName: "US-Mine", TerminationID: "t1"},
	}}
	queue := &fakeQueue{}
	svc := newTestService(&fakeAccess{roles: map[domain.AccessRole][]int64{}}, assignments, queue, newFakeCache())

	if _, err := svc.RequestRelease(context.Background(), 7, 700, "US-Other", false); !errors.Is(err, ErrForeignRange) {
		t.Fatalf("expected ErrForeignRange, got %v", err)
	}
	if len(queue.jobs) != 0 {
		t.Fatalf("foreign release must not be queued")
	}

	// своё имя принимается без учёта регистра
	if _, err := svc.RequestRelease(context.Background(), 7, 700, "us-mine", false); err != nil {
		t.Fatalf("own range release failed: %v", err)
	}
	if len(queue.jobs) != 1 {
		t.Fatalf("own release must be queued")
	}
}
