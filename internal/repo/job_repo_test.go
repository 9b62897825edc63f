package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/corkline/wa-sales-backend/internal/domain"
)

func TestJobQueue_EnqueueClaimComplete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := ClaimJob(ctx, db, now); !errors.Is(err, ErrNoJob) {
		t.Fatalf("empty queue: %v", err)
	}

	j, err := EnqueueJob(ctx, db, "reply", `{"sender":"1"}`, 3, now)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, err := ClaimJob(ctx, db, now.Add(time.Second))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.ID != j.ID || claimed.Status != domain.JobRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claim: %+v", claimed)
	}

	// A running job is invisible to other claimers.
	if _, err := ClaimJob(ctx, db, now.Add(time.Second)); !errors.Is(err, ErrNoJob) {
		t.Fatalf("second claim: %v", err)
	}

	if err := CompleteJob(ctx, db, claimed.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	counts, err := CountJobs(ctx, db)
	if err != nil || counts[domain.JobDone] != 1 {
		t.Fatalf("counts = %v err = %v", counts, err)
	}
}

func TestJobQueue_FutureJobsNotClaimable(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := EnqueueJob(ctx, db, "reply", "{}", 3, now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := ClaimJob(ctx, db, now); !errors.Is(err, ErrNoJob) {
		t.Fatalf("claimed a future job: %v", err)
	}
	if j, err := ClaimJob(ctx, db, now.Add(2*time.Hour)); err != nil || j == nil {
		t.Fatalf("due job not claimable: %v", err)
	}
}

func TestJobQueue_FailRetriesWithBackoff(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := EnqueueJob(ctx, db, "reply", "{}", 3, now); err != nil {
		t.Fatal(err)
	}
	j, err := ClaimJob(ctx, db, now)
	if err != nil {
		t.Fatal(err)
	}

	if err := FailJob(ctx, db, j, errors.New("provider down"), 2*time.Second); err != nil {
		t.Fatalf("fail: %v", err)
	}

	var row domain.Job
	db.Where("id = ?", j.ID).First(&row)
	if row.Status != domain.JobQueued {
		t.Fatalf("status = %q, want requeued", row.Status)
	}
	if row.LastError != "provider down" {
		t.Fatalf("last_error = %q", row.LastError)
	}
	// First failure backs off by the base delay.
	if row.RunAt.Before(now.Add(time.Second)) {
		t.Fatalf("run_at %v not pushed back", row.RunAt)
	}
}

func TestJobQueue_ExhaustedAttemptsGoDead(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := EnqueueJob(ctx, db, "reply", "{}", 2, now); err != nil {
		t.Fatal(err)
	}

	for attempt := 1; attempt <= 2; attempt++ {
		j, err := ClaimJob(ctx, db, now.Add(time.Hour))
		if err != nil {
			t.Fatalf("attempt %d claim: %v", attempt, err)
		}
		if err := FailJob(ctx, db, j, errors.New("boom"), time.Millisecond); err != nil {
			t.Fatal(err)
		}
	}

	counts, err := CountJobs(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if counts[domain.JobDead] != 1 {
		t.Fatalf("counts = %v, want one dead job", counts)
	}
}

func TestRequeueStaleRunning(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := EnqueueJob(ctx, db, "reply", "{}", 3, now); err != nil {
		t.Fatal(err)
	}
	if _, err := ClaimJob(ctx, db, now); err != nil {
		t.Fatal(err)
	}

	n, err := RequeueStaleRunning(ctx, db, now.Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("requeued = %d err = %v", n, err)
	}
	if j, err := ClaimJob(ctx, db, now.Add(2*time.Hour)); err != nil || j.Attempts != 2 {
		t.Fatalf("reclaim: %+v err = %v", j, err)
	}
}

func TestGetTotals(t *testing.T) {
	db := newTestDB(t)
	codec := newTestCodec(t)
	ctx := context.Background()

	conv, _ := GetOrCreateConversation(ctx, db, "351912000020")
	AppendMessage(ctx, db, codec, conv.ID, domain.RoleCustomer, "hi", "", domain.DeliverySent)
	EnqueueJob(ctx, db, "reply", "{}", 3, time.Now().UTC())

	tot, err := GetTotals(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if tot.Conversations != 1 || tot.Messages != 1 || tot.Customers != 1 || tot.Jobs[domain.JobQueued] != 1 {
		t.Fatalf("totals = %+v", tot)
	}
}
