package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/framecast/pkg/anim"
)

// ── mock DB ─────────────────────────────────────────────────────────────────

type execCall struct {
	sql  string
	args []any
}

type mockDB struct {
	execs    []execCall
	execErr  error
	rows     *mockRows
	queryErr error
}

func (m *mockDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execs = append(m.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, m.execErr
}

func (m *mockDB) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return m.rows, nil
}

type mockRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *[]byte:
			*d = v.([]byte)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

// ── tests ───────────────────────────────────────────────────────────────────

func TestStoreMigrate(t *testing.T) {
	t.Parallel()
	db := &mockDB{}
	if err := NewStore(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(db.execs) != 1 || !strings.Contains(db.execs[0].sql, "CREATE TABLE IF NOT EXISTS animation_runs") {
		t.Errorf("execs = %+v", db.execs)
	}

	db.execErr = errors.New("permission denied")
	if err := NewStore(db).Migrate(context.Background()); err == nil || !strings.Contains(err.Error(), "history: migrate") {
		t.Errorf("Migrate error = %v", err)
	}
}

func TestStoreInsert(t *testing.T) {
	t.Parallel()
	db := &mockDB{}
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := Run{
		ID:         "0b8d6a8e-1111-4c5e-9f00-000000000001",
		Session:    "anim-3",
		Animation:  "welcome",
		Kind:       anim.KindPlainText,
		Channel:    anim.ChannelTitle,
		Outcome:    "completed",
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
	}
	if err := NewStore(db).Insert(context.Background(), run); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	args := db.execs[0].args
	if len(args) != 9 {
		t.Fatalf("args = %d, want 9", len(args))
	}
	if args[2] != "welcome" || args[3] != "plain_text" || args[4] != "title" {
		t.Errorf("args = %v", args)
	}
	if got := string(args[6].([]byte)); got != "[]" {
		t.Errorf("nil witnesses stored as %s, want []", got)
	}
}

func TestStoreRecent(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := &mockRows{data: [][]any{
		{"id-2", "anim-2", "spinner", "texture", "actionbar", "abandoned", []byte(`[]`), at, at.Add(time.Second)},
		{"id-1", "anim-1", "welcome", "plain_text", "title", "completed", []byte(`[{"id":"alice","name":"Alice"}]`), at, at},
	}}
	runs, err := NewStore(&mockDB{rows: rows}).Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if !rows.closed {
		t.Error("rows not closed")
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].Kind != anim.KindTexture || runs[0].Channel != anim.ChannelActionBar {
		t.Errorf("runs[0] = %+v", runs[0])
	}
	if len(runs[1].Witnesses) != 1 || runs[1].Witnesses[0].Name != "Alice" {
		t.Errorf("witnesses = %+v", runs[1].Witnesses)
	}
}

func TestStoreRecentErrors(t *testing.T) {
	t.Parallel()
	if _, err := NewStore(&mockDB{queryErr: errors.New("boom")}).Recent(context.Background(), 1); err == nil {
		t.Error("Recent swallowed the query error")
	}
	bad := &mockRows{data: [][]any{{"id", "s", "a", "k", "c", "o", []byte(`{`), time.Time{}, time.Time{}}}}
	if _, err := NewStore(&mockDB{rows: bad}).Recent(context.Background(), 1); err == nil {
		t.Error("Recent accepted malformed witnesses")
	}
	failing := &mockRows{err: errors.New("conn reset")}
	if _, err := NewStore(&mockDB{rows: failing}).Recent(context.Background(), 1); err == nil {
		t.Error("Recent ignored rows.Err")
	}
}

func TestStoreCheckWithoutPool(t *testing.T) {
	t.Parallel()
	if err := NewStore(&mockDB{}).Check(context.Background()); err != nil {
		t.Errorf("Check = %v", err)
	}
}

// TestPostgresRoundTrip runs against a real database when
// FRAMECAST_TEST_POSTGRES_DSN is set.
func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("FRAMECAST_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FRAMECAST_TEST_POSTGRES_DSN not set")
	}
	ctx := t.Context()
	store, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	now := time.Now().UTC().Truncate(time.Millisecond)
	run := Run{
		ID:         uuid.NewString(),
		Session:    "anim-1",
		Animation:  "roundtrip-" + t.Name(),
		Kind:       anim.KindAPI,
		Channel:    anim.ChannelSubtitle,
		Outcome:    "completed",
		Witnesses:  []anim.Recipient{{ID: "alice", Name: "Alice"}},
		StartedAt:  now.Add(-time.Second),
		FinishedAt: now.Add(time.Hour),
	}
	if err := store.Insert(ctx, run); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	runs, err := store.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != run.ID || runs[0].Witnesses[0].ID != "alice" {
		t.Errorf("Recent = %+v", runs)
	}
	if err := store.Check(ctx); err != nil {
		t.Errorf("Check: %v", err)
	}
}
