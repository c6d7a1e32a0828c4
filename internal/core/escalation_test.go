package core

import (
	"context"
	"testing"
	"time"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
	"github.com/Dicklesworthstone/cmdgate/internal/testutil"
)

func TestSweepEscalations_Idempotent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	testutil.MakeUser(t, f.db, testutil.AsAdmin())
	user := testutil.MakeUser(t, f.db)

	overdue := testutil.MakeCommand(t, f.db, user,
		testutil.WithStatus(db.StatusPending), testutil.WithEscalationAt(f.now.Add(-time.Minute)))
	testutil.MakeCommand(t, f.db, user,
		testutil.WithStatus(db.StatusPending), testutil.WithEscalationAt(f.now.Add(time.Minute)))
	testutil.MakeCommand(t, f.db, user,
		testutil.WithStatus(db.StatusApproved), testutil.WithEscalationAt(f.now.Add(-time.Hour)))

	n, err := f.engine.SweepEscalations(ctx)
	testutil.RequireNoError(t, err, "first sweep")
	testutil.RequireEqual(t, 1, n, "escalated")
	testutil.RequireLen(t, f.notifier.escalated, 1, "escalation notifications")
	testutil.RequireEqual(t, overdue.ID, f.notifier.escalated[0], "escalated command")

	n, err = f.engine.SweepEscalations(ctx)
	testutil.RequireNoError(t, err, "second sweep")
	testutil.RequireEqual(t, 0, n, "nothing new")
	testutil.RequireLen(t, f.notifier.escalated, 1, "no repeat notification")

	stored, err := f.db.GetCommand(overdue.ID)
	testutil.RequireNoError(t, err, "GetCommand")
	testutil.RequireEqual(t, db.StatusPending, stored.Status, "escalation keeps status")
	if stored.EscalatedAt == nil {
		t.Fatalf("expected escalated_at to be stamped")
	}

	f.now = f.now.Add(2 * time.Minute)
	n, err = f.engine.SweepEscalations(ctx)
	testutil.RequireNoError(t, err, "later sweep")
	testutil.RequireEqual(t, 1, n, "second command now due")
}

func TestSweepEscalations_DecidedCommandsSkipped(t *testing.T) {
	f := newEngineFixture(t)
	admin := testutil.MakeUser(t, f.db, testutil.AsAdmin())
	user := testutil.MakeUser(t, f.db)
	cmd := testutil.MakeCommand(t, f.db, user,
		testutil.WithStatus(db.StatusPending), testutil.WithRequired(1),
		testutil.WithEscalationAt(f.now.Add(-time.Minute)))

	_, err := f.engine.RecordVote(context.Background(), admin, cmd.ID, db.VoteApprove)
	testutil.RequireNoError(t, err, "RecordVote")

	n, err := f.engine.SweepEscalations(context.Background())
	testutil.RequireNoError(t, err, "sweep")
	testutil.RequireEqual(t, 0, n, "approved command not escalated")
}
