package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
	"github.com/Dicklesworthstone/cmdgate/internal/testutil"
)

type recordingNotifier struct {
	mu         sync.Mutex
	pending    []string
	escalated  []string
	decisions  []db.Status
	adminCount int
}

func (n *recordingNotifier) NotifyPendingApproval(cmd *db.Command, _ *db.User, admins []*db.User) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending = append(n.pending, cmd.ID)
	n.adminCount = len(admins)
}

func (n *recordingNotifier) NotifyEscalation(cmd *db.Command, _ []*db.User) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.escalated = append(n.escalated, cmd.ID)
}

func (n *recordingNotifier) NotifyDecision(cmd *db.Command, _ *db.User, _ db.Tally) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.decisions = append(n.decisions, cmd.Status)
}

type engineFixture struct {
	db       *db.DB
	engine   *Engine
	exec     *testutil.RecordingExecutor
	notifier *recordingNotifier
	now      time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		db:       testutil.NewTestDB(t),
		exec:     testutil.NewRecordingExecutor("ok", nil),
		notifier: &recordingNotifier{},
		now:      time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
	f.engine = New(f.db, Options{
		Executor: f.exec,
		Notifier: f.notifier,
		Logger:   testutil.TestLogger(t),
		Now:      func() time.Time { return f.now },
	})
	return f
}

func (f *engineFixture) credits(t *testing.T, u *db.User) int64 {
	t.Helper()
	n, err := f.db.GetCredits(u.ID)
	testutil.RequireNoError(t, err, "GetCredits")
	return n
}

func TestSubmit_AutoAcceptExecutesAndDebits(t *testing.T) {
	f := newEngineFixture(t)
	rule := testutil.MakeRule(t, f.db, `^(ls|cat|pwd|echo)`, db.ActionAutoAccept)
	user := testutil.MakeUser(t, f.db)

	res, err := f.engine.Submit(context.Background(), user, SubmitRequest{Text: "ls -la"})
	testutil.RequireNoError(t, err, "Submit")

	testutil.RequireEqual(t, db.StatusExecuted, res.Status, "status")
	testutil.RequireEqual(t, int64(1), res.CreditsDeducted, "credits deducted")
	testutil.RequireEqual(t, int64(99), res.Balance, "balance")
	testutil.RequireEqual(t, "ok", res.Output, "output")
	testutil.RequireEqual(t, rule.ID, *res.MatchedRuleID, "matched rule")
	testutil.RequireEqual(t, int64(99), f.credits(t, user), "stored credits")
	testutil.RequireEqual(t, 1, f.exec.CallCount(), "executor calls")

	cmd, err := f.db.GetCommand(res.CommandID)
	testutil.RequireNoError(t, err, "GetCommand")
	testutil.RequireEqual(t, db.StatusExecuted, cmd.Status, "stored status")
	if cmd.ExecutedAt == nil {
		t.Fatalf("expected executed_at to be set")
	}
}

func TestSubmit_AutoRejectRecordsRuleWithoutDebit(t *testing.T) {
	f := newEngineFixture(t)
	rule := testutil.MakeRule(t, f.db, `rm\s+-rf\s+/`, db.ActionAutoReject, testutil.WithDescription("no root wipes"))
	user := testutil.MakeUser(t, f.db)

	res, err := f.engine.Submit(context.Background(), user, SubmitRequest{Text: "rm -rf / --no-preserve-root"})
	testutil.RequireNoError(t, err, "Submit")

	testutil.RequireEqual(t, db.StatusRejected, res.Status, "status")
	testutil.RequireEqual(t, rule.ID, *res.MatchedRuleID, "matched rule")
	testutil.RequireEqual(t, "Blocked by rule: no root wipes", res.Reason, "reason")
	testutil.RequireEqual(t, int64(100), f.credits(t, user), "credits untouched")
	testutil.RequireEqual(t, 0, f.exec.CallCount(), "executor calls")
}

func TestSubmit_NoMatchDefaultsToReject(t *testing.T) {
	f := newEngineFixture(t)
	testutil.MakeRule(t, f.db, `^ls`, db.ActionAutoAccept)
	user := testutil.MakeUser(t, f.db)

	res, err := f.engine.Submit(context.Background(), user, SubmitRequest{Text: "deploy prod"})
	testutil.RequireNoError(t, err, "Submit")

	testutil.RequireEqual(t, db.StatusRejected, res.Status, "status")
	if res.MatchedRuleID != nil {
		t.Fatalf("expected no matched rule, got %d", *res.MatchedRuleID)
	}
	testutil.RequireEqual(t, "Blocked by rule: No matching rule", res.Reason, "reason")
}

func TestSubmit_FirstMatchingRuleByIDWins(t *testing.T) {
	f := newEngineFixture(t)
	first := testutil.MakeRule(t, f.db, `^git`, db.ActionAutoReject)
	testutil.MakeRule(t, f.db, `^git status`, db.ActionAutoAccept)
	user := testutil.MakeUser(t, f.db)

	res, err := f.engine.Submit(context.Background(), user, SubmitRequest{Text: "git status"})
	testutil.RequireNoError(t, err, "Submit")
	testutil.RequireEqual(t, db.StatusRejected, res.Status, "status")
	testutil.RequireEqual(t, first.ID, *res.MatchedRuleID, "matched rule")
}

func TestSubmit_InsufficientCredits(t *testing.T) {
	f := newEngineFixture(t)
	testutil.MakeRule(t, f.db, `.*`, db.ActionAutoAccept)
	user := testutil.MakeUser(t, f.db, testutil.WithCredits(0))

	res, err := f.engine.Submit(context.Background(), user, SubmitRequest{Text: "ls"})
	testutil.RequireNoError(t, err, "Submit")
	testutil.RequireEqual(t, db.StatusRejected, res.Status, "status")
	testutil.RequireEqual(t, "Insufficient credits", res.Reason, "reason")
	testutil.RequireEqual(t, 0, f.exec.CallCount(), "executor calls")
	testutil.RequireEqual(t, int64(0), f.credits(t, user), "credits")
}

func TestSubmit_ValidationAndIdentity(t *testing.T) {
	f := newEngineFixture(t)
	user := testutil.MakeUser(t, f.db)

	_, err := f.engine.Submit(context.Background(), user, SubmitRequest{Text: "   "})
	testutil.RequireErrorIs(t, err, ErrValidation, "blank text")

	_, err = f.engine.Submit(context.Background(), nil, SubmitRequest{Text: "ls"})
	testutil.RequireErrorIs(t, err, ErrUnauthorized, "nil actor")
}

func TestSubmit_ExecutorErrorFoldedIntoOutput(t *testing.T) {
	f := newEngineFixture(t)
	f.exec.Output = "partial"
	f.exec.Err = errors.New("boom")
	testutil.MakeRule(t, f.db, `.*`, db.ActionAutoAccept)
	user := testutil.MakeUser(t, f.db)

	res, err := f.engine.Submit(context.Background(), user, SubmitRequest{Text: "ls"})
	testutil.RequireNoError(t, err, "Submit")
	testutil.RequireEqual(t, db.StatusExecuted, res.Status, "status")
	testutil.RequireEqual(t, "partial\nexecution error: boom", res.Output, "output")
	testutil.RequireEqual(t, int64(99), res.Balance, "balance")

	stored, err := f.db.GetCommand(res.CommandID)
	testutil.RequireNoError(t, err, "GetCommand")
	testutil.RequireEqual(t, res.Output, stored.Output, "stored output")
}

func TestApprovalWorkflow_JuniorNeedsThreeApprovals(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	testutil.MakeRule(t, f.db, `^sudo`, db.ActionRequireApproval)
	admins := []*db.User{
		testutil.MakeUser(t, f.db, testutil.AsAdmin()),
		testutil.MakeUser(t, f.db, testutil.AsAdmin()),
		testutil.MakeUser(t, f.db, testutil.AsAdmin()),
	}
	user := testutil.MakeUser(t, f.db, testutil.WithTier(db.TierJunior))

	res, err := f.engine.Submit(ctx, user, SubmitRequest{Text: "sudo reboot"})
	testutil.RequireNoError(t, err, "Submit")
	testutil.RequireEqual(t, db.StatusPending, res.Status, "status")
	testutil.RequireEqual(t, 3, res.Threshold, "threshold")
	testutil.RequireEqual(t, "Requires 3 approval(s)", res.Reason, "reason")
	testutil.RequireEqual(t, int64(100), f.credits(t, user), "no debit while pending")
	testutil.RequireEqual(t, 0, f.exec.CallCount(), "not executed")
	testutil.RequireLen(t, f.notifier.pending, 1, "pending notifications")
	testutil.RequireEqual(t, 3, f.notifier.adminCount, "admins notified")

	cmd, err := f.db.GetCommand(res.CommandID)
	testutil.RequireNoError(t, err, "GetCommand")
	if cmd.EscalationAt == nil || !cmd.EscalationAt.Equal(f.now.Add(DefaultEscalationDelay)) {
		t.Fatalf("escalation_at = %v, want %v", cmd.EscalationAt, f.now.Add(DefaultEscalationDelay))
	}

	for i, admin := range admins[:2] {
		vr, err := f.engine.RecordVote(ctx, admin, res.CommandID, db.VoteApprove)
		testutil.RequireNoError(t, err, "RecordVote")
		testutil.RequireEqual(t, db.StatusPending, vr.Status, "status after early vote")
		testutil.RequireEqual(t, i+1, vr.Approvals, "approvals")
		testutil.RequireEqual(t, "", vr.ApprovalToken, "no token while pending")
	}

	vr, err := f.engine.RecordVote(ctx, admins[2], res.CommandID, db.VoteApprove)
	testutil.RequireNoError(t, err, "RecordVote")
	testutil.RequireEqual(t, db.StatusApproved, vr.Status, "status")
	testutil.RequireEqual(t, res.ApprovalToken, vr.ApprovalToken, "token")
	testutil.RequireLen(t, f.notifier.decisions, 1, "decision notifications")

	exec, err := f.engine.Submit(ctx, user, SubmitRequest{Text: "sudo reboot", ApprovalToken: vr.ApprovalToken})
	testutil.RequireNoError(t, err, "resubmit")
	testutil.RequireEqual(t, db.StatusExecuted, exec.Status, "status")
	testutil.RequireEqual(t, res.CommandID, exec.CommandID, "same command")
	testutil.RequireEqual(t, int64(99), f.credits(t, user), "debited once")

	cmd, err = f.db.GetCommand(res.CommandID)
	testutil.RequireNoError(t, err, "GetCommand")
	testutil.RequireEqual(t, db.StatusExecuted, cmd.Status, "stored status")
	testutil.RequireEqual(t, int64(1), cmd.CreditsDeducted, "credits deducted")

	_, err = f.engine.Submit(ctx, user, SubmitRequest{ApprovalToken: vr.ApprovalToken})
	testutil.RequireErrorIs(t, err, ErrInvalidState, "token reuse")
	testutil.RequireEqual(t, int64(99), f.credits(t, user), "no second debit")
	testutil.RequireEqual(t, 1, f.exec.CallCount(), "executed once")
}

func TestResubmit_TokenChecks(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	owner := testutil.MakeUser(t, f.db)
	other := testutil.MakeUser(t, f.db)
	approved := testutil.MakeCommand(t, f.db, owner,
		testutil.WithStatus(db.StatusApproved), testutil.WithText("make deploy"), testutil.WithToken("tok-approved"))
	testutil.MakeCommand(t, f.db, owner,
		testutil.WithStatus(db.StatusPending), testutil.WithToken("tok-pending"))

	_, err := f.engine.Submit(ctx, other, SubmitRequest{ApprovalToken: "tok-approved"})
	testutil.RequireErrorIs(t, err, ErrUnauthorized, "non-owner")

	_, err = f.engine.Submit(ctx, owner, SubmitRequest{ApprovalToken: "tok-pending"})
	testutil.RequireErrorIs(t, err, ErrInvalidState, "pending token")

	_, err = f.engine.Submit(ctx, owner, SubmitRequest{ApprovalToken: "nope"})
	testutil.RequireErrorIs(t, err, ErrInvalidState, "unknown token")

	_, err = f.engine.Submit(ctx, owner, SubmitRequest{Text: "make other", ApprovalToken: "tok-approved"})
	testutil.RequireErrorIs(t, err, ErrInvalidState, "text mismatch")

	res, err := f.engine.Submit(ctx, owner, SubmitRequest{ApprovalToken: "tok-approved"})
	testutil.RequireNoError(t, err, "resubmit without text")
	testutil.RequireEqual(t, approved.ID, res.CommandID, "command id")
	testutil.RequireEqual(t, "make deploy", f.exec.Calls[0], "executed stored text")
}

func TestSubmit_ConcurrentNeverOverdraws(t *testing.T) {
	f := newEngineFixture(t)
	testutil.MakeRule(t, f.db, `.*`, db.ActionAutoAccept)
	user := testutil.MakeUser(t, f.db, testutil.WithCredits(3))

	const n = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		executed int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.Submit(context.Background(), user, SubmitRequest{Text: "echo hi"})
			if err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
			if res.Status == db.StatusExecuted {
				mu.Lock()
				executed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	testutil.RequireEqual(t, 3, executed, "executed submissions")
	testutil.RequireEqual(t, int64(0), f.credits(t, user), "final balance")
	testutil.RequireEqual(t, 3, f.exec.CallCount(), "executor calls")
}

func TestTestCommand_DryRun(t *testing.T) {
	f := newEngineFixture(t)
	testutil.MakeRule(t, f.db, `^kubectl`, db.ActionRequireApproval, testutil.WithThreshold(2))
	user := testutil.MakeUser(t, f.db, testutil.WithTier(db.TierSenior))

	res, err := f.engine.TestCommand(user, "kubectl delete pod x")
	testutil.RequireNoError(t, err, "TestCommand")
	testutil.RequireEqual(t, db.ActionRequireApproval, res.Action, "action")
	testutil.RequireEqual(t, 2, res.Threshold, "threshold")

	cmds, err := f.db.ListCommands(0, 0)
	testutil.RequireNoError(t, err, "ListCommands")
	testutil.RequireLen(t, cmds, 0, "nothing recorded")
	if !strings.HasPrefix(res.Command, "kubectl") {
		t.Fatalf("unexpected command %q", res.Command)
	}
}
