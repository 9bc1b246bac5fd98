package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/edualign/internal/discourse"
	"github.com/MrWong99/edualign/internal/pipeline"
	"github.com/MrWong99/edualign/pkg/types"
)

var stamp = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

// stored is one segmentation_jobs row with its JSONB columns as text.
type stored struct {
	id     string
	status Status
	segs   string
	units  string
	stats  string
}

func (s stored) scan(dest ...any) error {
	if len(dest) != 9 {
		return fmt.Errorf("scan into %d columns, want 9", len(dest))
	}
	*dest[0].(*string) = s.id
	*dest[1].(*string) = string(s.status)
	*dest[2].(*[]byte) = []byte(s.segs)
	*dest[3].(*[]byte) = []byte(s.units)
	*dest[4].(*int) = 1
	if s.stats != "" {
		*dest[5].(*[]byte) = []byte(s.stats)
	}
	*dest[6].(*string) = ""
	*dest[7].(*time.Time) = stamp
	*dest[8].(*time.Time) = stamp
	return nil
}

func empty(id string, status Status) stored {
	return stored{id: id, status: status, segs: "[]", units: "[]"}
}

type statement struct {
	sql  string
	args []any
}

// fakeDB answers from an in-memory row list and records every statement.
type fakeDB struct {
	tag      string
	execErr  error
	rows     []stored
	queryErr error
	iterErr  error

	seen []statement
	set  *rowSet
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.seen = append(f.seen, statement{sql, args})
	return pgconn.NewCommandTag(f.tag), f.execErr
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.seen = append(f.seen, statement{sql, args})
	for _, r := range f.rows {
		if r.id == args[0] {
			return scanFunc(r.scan)
		}
	}
	return scanFunc(func(...any) error { return pgx.ErrNoRows })
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.seen = append(f.seen, statement{sql, args})
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	f.set = &rowSet{rows: f.rows, err: f.iterErr, pos: -1}
	return f.set, nil
}

func (f *fakeDB) last() statement { return f.seen[len(f.seen)-1] }

type scanFunc func(dest ...any) error

func (fn scanFunc) Scan(dest ...any) error { return fn(dest...) }

type rowSet struct {
	rows   []stored
	pos    int
	err    error
	closed bool
}

func (s *rowSet) Next() bool {
	if s.err != nil || s.pos+1 >= len(s.rows) {
		return false
	}
	s.pos++
	return true
}

func (s *rowSet) Scan(dest ...any) error                       { return s.rows[s.pos].scan(dest...) }
func (s *rowSet) Close()                                       { s.closed = true }
func (s *rowSet) Err() error                                   { return s.err }
func (s *rowSet) Values() ([]any, error)                       { return nil, errors.New("not supported") }
func (s *rowSet) RawValues() [][]byte                          { return nil }
func (s *rowSet) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (s *rowSet) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (s *rowSet) Conn() *pgx.Conn                              { return nil }

func succeededJob() *Job {
	j := NewJob()
	j.Succeed(&pipeline.Result{
		Units:      []discourse.Unit{{Index: 0, Content: "Hello.", Tag: discourse.TagClaim}},
		Segments:   []types.RealignedSegment{{ID: "0", Type: types.SegmentWord, Text: "Hello.", StartMs: 0, EndMs: 400, Unit: 0}},
		Paragraphs: 1,
		Stats:      pipeline.Stats{SegmentsIn: 1, SegmentsOut: 1, Words: 1},
	})
	return j
}

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()

	db := &fakeDB{}
	if err := NewPostgresStore(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if !strings.Contains(db.last().sql, "CREATE TABLE IF NOT EXISTS segmentation_jobs") {
		t.Errorf("Migrate ran %q", db.last().sql)
	}

	db = &fakeDB{execErr: errors.New("connection refused")}
	if err := NewPostgresStore(db).Migrate(context.Background()); err == nil || !strings.HasPrefix(err.Error(), "store: migrate") {
		t.Errorf("Migrate error = %v, want store: migrate prefix", err)
	}
}

func TestPostgresStore_CreateColumns(t *testing.T) {
	t.Parallel()

	failed := NewJob()
	failed.Fail(errors.New("boom"))

	tests := []struct {
		name string
		job  *Job
		// column index to expected substring of its encoded value
		want map[int]string
		null []int
	}{
		{
			name: "succeeded job",
			job:  succeededJob(),
			want: map[int]string{1: "succeeded", 2: `"text":"Hello."`, 3: `"tag":"CL"`, 5: `"segments_in":1`},
		},
		{
			name: "failed job",
			job:  failed,
			want: map[int]string{1: "failed", 2: "[]", 3: "[]", 6: "boom"},
			null: []int{5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			db := &fakeDB{tag: "INSERT 0 1"}
			if err := NewPostgresStore(db).Create(context.Background(), tt.job); err != nil {
				t.Fatalf("Create: %v", err)
			}
			st := db.last()
			if !strings.Contains(st.sql, "INSERT INTO segmentation_jobs") || len(st.args) != 9 {
				t.Fatalf("Create ran %q with %d args", st.sql, len(st.args))
			}
			if st.args[0] != tt.job.ID {
				t.Errorf("id arg = %v, want %s", st.args[0], tt.job.ID)
			}
			for i, sub := range tt.want {
				if got := fmt.Sprintf("%s", st.args[i]); !strings.Contains(got, sub) {
					t.Errorf("arg %d = %s, want it to contain %s", i, got, sub)
				}
			}
			for _, i := range tt.null {
				if b, _ := st.args[i].([]byte); b != nil {
					t.Errorf("arg %d = %s, want NULL", i, b)
				}
			}
		})
	}
}

func TestPostgresStore_WriteErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		db    *fakeDB
		write func(*PostgresStore) error
		want  error
	}{
		{
			name:  "create duplicate",
			db:    &fakeDB{execErr: &pgconn.PgError{Code: "23505"}},
			write: func(s *PostgresStore) error { return s.Create(context.Background(), succeededJob()) },
			want:  ErrDuplicateID,
		},
		{
			name:  "update missing row",
			db:    &fakeDB{tag: "UPDATE 0"},
			write: func(s *PostgresStore) error { return s.Update(context.Background(), succeededJob()) },
			want:  ErrNotFound,
		},
		{
			name:  "update",
			db:    &fakeDB{tag: "UPDATE 1"},
			write: func(s *PostgresStore) error { return s.Update(context.Background(), succeededJob()) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.write(NewPostgresStore(tt.db))
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPostgresStore_Get(t *testing.T) {
	t.Parallel()

	db := &fakeDB{rows: []stored{
		{
			id: "job-1", status: StatusSucceeded,
			segs:  `[{"id":"0","type":"word","text":"Hi.","start_ms":0,"end_ms":300,"unit":0}]`,
			units: `[{"global_index":0,"content":"Hi.","tag":"CL"}]`,
			stats: `{"segments_in":2,"segments_out":1}`,
		},
		empty("job-2", StatusFailed),
		{id: "job-3", status: StatusSucceeded, segs: `{not json`, units: "[]"},
	}}
	s := NewPostgresStore(db)

	job, err := s.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Get job-1: %v", err)
	}
	if job.Status != StatusSucceeded || !job.CreatedAt.Equal(stamp) {
		t.Errorf("job-1 = %s at %v", job.Status, job.CreatedAt)
	}
	if len(job.Segments) != 1 || job.Segments[0].EndMs != 300 {
		t.Errorf("Segments = %+v", job.Segments)
	}
	if len(job.Units) != 1 || job.Units[0].Tag != discourse.TagClaim {
		t.Errorf("Units = %+v", job.Units)
	}
	if job.Stats == nil || job.Stats.SegmentsIn != 2 {
		t.Errorf("Stats = %+v", job.Stats)
	}

	job, err = s.Get(context.Background(), "job-2")
	if err != nil {
		t.Fatalf("Get job-2: %v", err)
	}
	if job.Segments != nil || job.Units != nil || job.Stats != nil {
		t.Errorf("failed job carries output: %+v", job)
	}

	if _, err := s.Get(context.Background(), "job-3"); err == nil || !strings.Contains(err.Error(), "unmarshal segments") {
		t.Errorf("corrupt row error = %v", err)
	}
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing row error = %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_List(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		db      *fakeDB
		limit   int
		wantIDs []string
		wantSQL string
		wantErr string
	}{
		{
			name:    "limited",
			db:      &fakeDB{rows: []stored{empty("a", StatusSucceeded), empty("b", StatusFailed)}},
			limit:   2,
			wantIDs: []string{"a", "b"},
			wantSQL: "LIMIT $1",
		},
		{
			name:    "unlimited",
			db:      &fakeDB{rows: []stored{empty("a", StatusRunning)}},
			wantIDs: []string{"a"},
			wantSQL: "ORDER BY created_at DESC",
		},
		{
			name:    "iteration error",
			db:      &fakeDB{iterErr: errors.New("stream broke")},
			wantErr: "stream broke",
		},
		{
			name:    "query error",
			db:      &fakeDB{queryErr: errors.New("no connection")},
			wantErr: "store: list",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			jobs, err := NewPostgresStore(tt.db).List(context.Background(), tt.limit)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("List error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			var ids []string
			for _, j := range jobs {
				ids = append(ids, j.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.wantIDs, ",") {
				t.Errorf("ids = %v, want %v", ids, tt.wantIDs)
			}
			if st := tt.db.last(); !strings.Contains(st.sql, tt.wantSQL) {
				t.Errorf("sql = %q, want %q", st.sql, tt.wantSQL)
			}
			if tt.limit > 0 && tt.db.last().args[0] != tt.limit {
				t.Errorf("limit arg = %v", tt.db.last().args[0])
			}
			if !tt.db.set.closed {
				t.Error("rows not closed")
			}
		})
	}
}
