package ranges

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sms-range-relay/internal/domain"
)

type scriptedQueue struct {
	jobs chan domain.RangeJob
	acks chan bool
}

func newScriptedQueue(jobs ...domain.RangeJob) *scriptedQueue {
	q := &scriptedQueue{
		jobs: make(chan domain.RangeJob, len(jobs)),
		acks: make(chan bool, len(jobs)),
	}
	for _, job := range jobs {
		q.jobs <- job
	}
	return q
}

func (q *scriptedQueue) Enqueue(_ context.Context, job domain.RangeJob) error {
	q.jobs <- job
	return nil
}

func (q *scriptedQueue) Receive(ctx context.Context) (domain.RangeJob, domain.RangeAckFunc, error) {
	select {
	case job := <-q.jobs:
		return job, func(success bool) error {
			q.acks <- success
			return nil
		}, nil
	case <-ctx.Done():
		return domain.RangeJob{}, nil, ctx.Err()
	}
}

type fakeProvisioner struct {
	overview    domain.PanelOverview
	matches     []domain.RangeMatch
	claimed     []domain.NumberRecord
	numbers     []domain.NumberRecord
	searchErr   error
	claimCalls  int
	releasedIDs []string
	releasedAll bool
}

func (f *fakeProvisioner) EnsureSession(context.Context) error { return nil }
func (f *fakeProvisioner) InvalidateSession()                  {}

func (f *fakeProvisioner) PanelOverview(context.Context) (domain.PanelOverview, error) {
	return f.overview, nil
}

func (f *fakeProvisioner) SearchRange(context.Context, string) ([]domain.RangeMatch, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.matches, nil
}

func (f *fakeProvisioner) ClaimRange(context.Context, string) ([]domain.NumberRecord, error) {
	f.claimCalls++
	return f.claimed, nil
}

func (f *fakeProvisioner) SearchNumbers(context.Context, string) ([]domain.NumberRecord, error) {
	return f.numbers, nil
}

func (f *fakeProvisioner) ReleaseNumbers(_ context.Context, ids []string) error {
	f.releasedIDs = append(f.releasedIDs, ids...)
	return nil
}

func (f *fakeProvisioner) ReleaseAllNumbers(context.Context) error {
	f.releasedAll = true
	return nil
}

type fakeResponder struct {
	replies []string
	chats   []int64
}

func (f *fakeResponder) Reply(_ context.Context, chatID int64, text string) error {
	f.chats = append(f.chats, chatID)
	f.replies = append(f.replies, text)
	return nil
}

func runOneJob(t *testing.T, worker *Worker, queue *scriptedQueue) bool {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = worker.Run(ctx)
	}()

	var acked bool
	select {
	case acked = <-queue.acks:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not ack the job in time")
	}
	cancel()
	<-done
	return acked
}

func TestWorkerClaimHappyPath(t *testing.T) {
	provisioner := &fakeProvisioner{
		overview: domain.PanelOverview{TotalNumbers: 10},
		matches:  []domain.RangeMatch{{RangeName: "US-Verizon", TerminationID: "t77"}},
		claimed:  []domain.NumberRecord{{Number: "14155550101"}, {Number: "14155550102"}},
	}
	assignments := &fakeAssignments{}
	responder := &fakeResponder{}
	queue := newScriptedQueue(domain.RangeJob{
		ID: "j1", Action: domain.RangeJobClaim, UserTGID: 7, ChatID: 700, RangeName: "us-verizon",
	})
	worker := NewWorker(queue, provisioner, assignments, responder, zerolog.Nop(), 1000)

	if !runOneJob(t, worker, queue) {
		t.Fatalf("successful claim must be acked")
	}
	if provisioner.claimCalls != 1 {
		t.Fatalf("expected 1 claim call, got %d", provisioner.claimCalls)
	}
	if len(assignments.items) != 1 || assignments.items[0].RangeName != "US-Verizon" || assignments.items[0].UserID != 7 {
		t.Fatalf("ledger entry missing or wrong: %+v", assignments.items)
	}
	if len(responder.replies) != 1 || !strings.Contains(responder.replies[0], "added successfully") {
		t.Fatalf("unexpected reply: %v", responder.replies)
	}
	if !strings.Contains(responder.replies[0], "`+14155550101`") {
		t.Fatalf("reply must list claimed numbers: %s", responder.replies[0])
	}
	if responder.chats[0] != 700 {
		t.Fatalf("reply must go to the requesting chat, got %d", responder.chats[0])
	}
}

func TestWorkerClaimRefusedOverCap(t *testing.T) {
	provisioner := &fakeProvisioner{
		overview: domain.PanelOverview{TotalNumbers: 1000},
		matches:  []domain.RangeMatch{{RangeName: "US-Verizon", TerminationID: "t77"}},
	}
	responder := &fakeResponder{}
	queue := newScriptedQueue(domain.RangeJob{
		ID: "j1", Action: domain.RangeJobClaim, UserTGID: 7, ChatID: 700, RangeName: "US-Verizon",
	})
	worker := NewWorker(queue, provisioner, &fakeAssignments{}, responder, zerolog.Nop(), 1000)

	if !runOneJob(t, worker, queue) {
		t.Fatalf("cap refusal is a handled outcome, job must be acked")
	}
	if provisioner.claimCalls != 0 {
		t.Fatalf("claim must not run over the cap")
	}
	if len(responder.replies) != 1 || !strings.Contains(responder.replies[0], "limit") {
		t.Fatalf("unexpected reply: %v", responder.replies)
	}
}

func TestWorkerClaimUnknownRange(t *testing.T) {
	provisioner := &fakeProvisioner{overview: domain.PanelOverview{TotalNumbers: 0}}
	responder := &fakeResponder{}
	queue := newScriptedQueue(domain.RangeJob{
		ID: "j1", Action: domain.RangeJobClaim, UserTGID: 7, ChatID: 700, RangeName: "No-Such",
	})
	worker := NewWorker(queue, provisioner, &fakeAssignments{}, responder, zerolog.Nop(), 1000)

	if !runOneJob(t, worker, queue) {
		t.Fatalf("unknown range is a handled outcome, job must be acked")
	}
	if len(responder.replies) != 1 || !strings.Contains(responder.replies[0], "not found") {
		t.Fatalf("unexpected reply: %v", responder.replies)
	}
}

func TestWorkerTransientFailureRequeues(t *testing.T) {
	provisioner := &fakeProvisioner{
		overview:  domain.PanelOverview{TotalNumbers: 0},
		searchErr: domain.TransientErrorf("portal timeout"),
	}
	queue := newScriptedQueue(domain.RangeJob{
		ID: "j1", Action: domain.RangeJobClaim, UserTGID: 7, ChatID: 700, RangeName: "US-Verizon",
	})
	worker := NewWorker(queue, provisioner, &fakeAssignments{}, &fakeResponder{}, zerolog.Nop(), 1000)

	if runOneJob(t, worker, queue) {
		t.Fatalf("transient failure must nack for a requeue")
	}
}

func TestWorkerReleaseCleansLedger(t *testing.T) {
	provisioner := &fakeProvisioner{
		numbers: []domain.NumberRecord{
			{Number: "14155550101", NumberID: "101"},
			{Number: "14155550102", NumberID: "102"},
		},
	}
	assignments := &fakeAssignments{items: []domain.RangeAssignment{
		{UserID: 7, RangeName: "US-Verizon", TerminationID: "t77"},
		{UserID: 9, RangeName: "us-verizon", TerminationID: "t77"},
		{UserID: 7, RangeName: "DE-Other", TerminationID: "t90"},
	}}
	responder := &fakeResponder{}
	queue := newScriptedQueue(domain.RangeJob{
		ID: "j1", Action: domain.RangeJobRelease, UserTGID: 1, ChatID: 100, RangeName: "US-Verizon",
	})
	worker := NewWorker(queue, provisioner, assignments, responder, zerolog.Nop(), 1000)

	if !runOneJob(t, worker, queue) {
		t.Fatalf("release must be acked")
	}
	if len(provisioner.releasedIDs) != 2 {
		t.Fatalf("expected both number ids released, got %v", provisioner.releasedIDs)
	}
	if len(assignments.items) != 1 || assignments.items[0].RangeName != "DE-Other" {
		t.Fatalf("ledger must drop every entry of the released range: %+v", assignments.items)
	}
	if len(responder.replies) != 1 || !strings.Contains(responder.replies[0], "2 numbers released") {
		t.Fatalf("unexpected reply: %v", responder.replies)
	}
}

func TestWorkerReleaseAll(t *testing.T) {
	provisioner := &fakeProvisioner{}
	assignments := &fakeAssignments{items: []domain.RangeAssignment{
		{UserID: 7, RangeName: "US-Verizon"},
	}}
	responder := &fakeResponder{}
	queue := newScriptedQueue(domain.RangeJob{
		ID: "j1", Action: domain.RangeJobReleaseAll, UserTGID: 1, ChatID: 100,
	})
	worker := NewWorker(queue, provisioner, assignments, responder, zerolog.Nop(), 1000)

	if !runOneJob(t, worker, queue) {
		t.Fatalf("release all must be acked")
	}
	if !provisioner.releasedAll {
		t.Fatalf("panel release was not invoked")
	}
	if len(assignments.items) != 0 {
		t.Fatalf("ledger must be emptied: %+v", assignments.items)
	}
}
