// Package testutil provides shared test helpers and fixtures for cmdgate.
//
// Philosophy:
// - Prefer real SQLite (no mocks) for correctness.
// - Keep helpers small, composable, and deterministic.
// - Register cleanup via t.Cleanup so tests stay leak-free.
//
// Most packages should start with:
//
//	database := testutil.NewTestDB(t)
//	admin := testutil.MakeUser(t, database, testutil.AsAdmin())
//	rule := testutil.MakeRule(t, database, `^ls`, db.ActionAutoAccept)
package testutil
