package core

import (
	"context"
	"sync"
	"testing"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
	"github.com/Dicklesworthstone/cmdgate/internal/testutil"
)

func TestNextStatus(t *testing.T) {
	tests := []struct {
		name     string
		vote     db.VoteValue
		tally    db.Tally
		required int
		want     db.Status
	}{
		{"approve below quorum", db.VoteApprove, db.Tally{Approvals: 1}, 2, db.StatusPending},
		{"approve meets quorum", db.VoteApprove, db.Tally{Approvals: 2}, 2, db.StatusApproved},
		{"approve with rejections ahead", db.VoteApprove, db.Tally{Approvals: 1, Rejections: 3}, 1, db.StatusApproved},
		{"reject majority", db.VoteReject, db.Tally{Approvals: 1, Rejections: 2}, 3, db.StatusRejected},
		{"reject tie stays pending", db.VoteReject, db.Tally{Approvals: 1, Rejections: 1}, 3, db.StatusPending},
		{"reject never approves", db.VoteReject, db.Tally{Approvals: 3}, 1, db.StatusPending},
		{"zero quorum treated as one", db.VoteApprove, db.Tally{Approvals: 1}, 0, db.StatusApproved},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			testutil.RequireEqual(t, tc.want, nextStatus(tc.vote, tc.tally, tc.required), "status")
		})
	}
}

func TestRecordVote_RejectMajority(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	a1 := testutil.MakeUser(t, f.db, testutil.AsAdmin())
	a2 := testutil.MakeUser(t, f.db, testutil.AsAdmin())
	user := testutil.MakeUser(t, f.db)
	cmd := testutil.MakeCommand(t, f.db, user, testutil.WithStatus(db.StatusPending), testutil.WithRequired(3))

	vr, err := f.engine.RecordVote(ctx, a1, cmd.ID, db.VoteReject)
	testutil.RequireNoError(t, err, "RecordVote")
	testutil.RequireEqual(t, db.StatusRejected, vr.Status, "one reject against zero approvals")
	testutil.RequireEqual(t, "Command rejected", vr.Message, "message")
	testutil.RequireEqual(t, "", vr.ApprovalToken, "no token on reject")

	_, err = f.engine.RecordVote(ctx, a2, cmd.ID, db.VoteApprove)
	testutil.RequireErrorIs(t, err, ErrInvalidState, "late vote")
	testutil.RequireLen(t, f.notifier.decisions, 1, "decision notifications")
	testutil.RequireEqual(t, db.StatusRejected, f.notifier.decisions[0], "decision")
}

func TestRecordVote_RevoteReplacesEarlierVote(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	a1 := testutil.MakeUser(t, f.db, testutil.AsAdmin())
	a2 := testutil.MakeUser(t, f.db, testutil.AsAdmin())
	user := testutil.MakeUser(t, f.db)
	cmd := testutil.MakeCommand(t, f.db, user, testutil.WithStatus(db.StatusPending), testutil.WithRequired(3))

	_, err := f.engine.RecordVote(ctx, a1, cmd.ID, db.VoteApprove)
	testutil.RequireNoError(t, err, "first vote")
	vr, err := f.engine.RecordVote(ctx, a1, cmd.ID, db.VoteApprove)
	testutil.RequireNoError(t, err, "repeat vote")
	testutil.RequireEqual(t, 1, vr.Approvals, "repeat vote counted once")

	_, err = f.engine.RecordVote(ctx, a2, cmd.ID, db.VoteApprove)
	testutil.RequireNoError(t, err, "second admin")

	vr, err = f.engine.RecordVote(ctx, a1, cmd.ID, db.VoteReject)
	testutil.RequireNoError(t, err, "changed vote")
	testutil.RequireEqual(t, 1, vr.Approvals, "approvals after change")
	testutil.RequireEqual(t, 1, vr.Rejections, "rejections after change")
	testutil.RequireEqual(t, db.StatusPending, vr.Status, "tie stays pending")
}

func TestRecordVote_Validation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	admin := testutil.MakeUser(t, f.db, testutil.AsAdmin())
	member := testutil.MakeUser(t, f.db)
	cmd := testutil.MakeCommand(t, f.db, member, testutil.WithStatus(db.StatusPending))

	_, err := f.engine.RecordVote(ctx, member, cmd.ID, db.VoteApprove)
	testutil.RequireErrorIs(t, err, ErrUnauthorized, "member vote")

	_, err = f.engine.RecordVote(ctx, admin, cmd.ID, db.VoteValue("maybe"))
	testutil.RequireErrorIs(t, err, ErrValidation, "bad vote value")

	_, err = f.engine.RecordVote(ctx, admin, "missing", db.VoteApprove)
	testutil.RequireErrorIs(t, err, ErrNotFound, "unknown command")

	executed := testutil.MakeCommand(t, f.db, member)
	_, err = f.engine.RecordVote(ctx, admin, executed.ID, db.VoteApprove)
	testutil.RequireErrorIs(t, err, ErrInvalidState, "vote on executed command")
}

func TestRecordVote_ConcurrentApprovalsDecideOnce(t *testing.T) {
	f := newEngineFixture(t)
	user := testutil.MakeUser(t, f.db)
	cmd := testutil.MakeCommand(t, f.db, user, testutil.WithStatus(db.StatusPending), testutil.WithRequired(2))

	const n = 6
	admins := make([]*db.User, n)
	for i := range admins {
		admins[i] = testutil.MakeUser(t, f.db, testutil.AsAdmin())
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
		late     int
	)
	for _, admin := range admins {
		wg.Add(1)
		go func(admin *db.User) {
			defer wg.Done()
			vr, err := f.engine.RecordVote(context.Background(), admin, cmd.ID, db.VoteApprove)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				late++
			case vr.Status == db.StatusApproved:
				approved++
			}
		}(admin)
	}
	wg.Wait()

	testutil.RequireEqual(t, 1, approved, "exactly one vote approves")
	testutil.RequireEqual(t, n-2, late, "votes after the decision fail")

	stored, err := f.db.GetCommand(cmd.ID)
	testutil.RequireNoError(t, err, "GetCommand")
	testutil.RequireEqual(t, db.StatusApproved, stored.Status, "stored status")
	testutil.RequireEqual(t, 0, f.engine.voteLocks.size(), "vote locks released")
}

func TestRecordVote_WritesAudit(t *testing.T) {
	f := newEngineFixture(t)
	admin := testutil.MakeUser(t, f.db, testutil.AsAdmin())
	user := testutil.MakeUser(t, f.db)
	cmd := testutil.MakeCommand(t, f.db, user, testutil.WithStatus(db.StatusPending), testutil.WithRequired(1))

	_, err := f.engine.RecordVote(context.Background(), admin, cmd.ID, db.VoteApprove)
	testutil.RequireNoError(t, err, "RecordVote")

	entries, err := f.db.ListAudit(10)
	testutil.RequireNoError(t, err, "ListAudit")
	testutil.RequireLen(t, entries, 1, "audit entries")
	testutil.RequireEqual(t, db.AuditCommandApproved, entries[0].ActionType, "action type")
}
