package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"pricebot/internal/plan"
	"pricebot/internal/tier"
	"pricebot/internal/userclock"
	logx "pricebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const (
	// One original try plus one retry on "database is locked".
	writeAttempts  = 2
	lockRetryDelay = 50 * time.Millisecond
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (creating if needed) the SQLite database at cfg.Path and runs
// the embedded migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 2 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// execWrite runs a write statement, retrying once when another writer holds
// the database lock past the busy timeout.
func (s *sqliteStore) execWrite(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var lastErr error
	for attempt := 0; attempt < writeAttempts; attempt++ {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !strings.Contains(strings.ToLower(err.Error()), "database is locked") || attempt+1 >= writeAttempts {
			break
		}
		s.log.Warn("retrying write after lock", logx.Err(err))
		select {
		case <-time.After(lockRetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// --- currency preferences ---

func (s *sqliteStore) SaveCurrencies(ctx context.Context, userID int64, currencies []string) error {
	_, err := s.execWrite(ctx,
		`INSERT INTO currency_preferences(user_id, currencies) VALUES(?,?)
		 ON CONFLICT(user_id) DO UPDATE SET currencies = excluded.currencies`,
		userID, strings.Join(currencies, ","))
	return err
}

func (s *sqliteStore) LoadCurrencies(ctx context.Context, userID int64) ([]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT currencies FROM currency_preferences WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	return strings.Split(raw, ","), nil
}

func (s *sqliteStore) ClearCurrencies(ctx context.Context, userID int64) error {
	_, err := s.execWrite(ctx,
		`DELETE FROM currency_preferences WHERE user_id = ?`, userID)
	return err
}

// --- base subscriptions ---

func (s *sqliteStore) AddBaseSubscription(ctx context.Context, userID int64, intervalMinutes int) error {
	_, err := s.execWrite(ctx,
		`INSERT INTO base_subscribers(user_id, interval_minutes) VALUES(?,?)
		 ON CONFLICT(user_id, interval_minutes) DO NOTHING`,
		userID, intervalMinutes)
	return err
}

func (s *sqliteStore) RemoveBaseSubscription(ctx context.Context, userID int64, intervalMinutes int) error {
	_, err := s.execWrite(ctx,
		`DELETE FROM base_subscribers WHERE user_id = ? AND interval_minutes = ?`,
		userID, intervalMinutes)
	return err
}

func (s *sqliteStore) BaseSubscribers(ctx context.Context, intervalMinutes int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM base_subscribers WHERE interval_minutes = ?`, intervalMinutes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) UserBaseIntervals(ctx context.Context, userID int64) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT interval_minutes FROM base_subscribers WHERE user_id = ? ORDER BY interval_minutes`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var iv int
		if err := rows.Scan(&iv); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// --- personal plans ---

func (s *sqliteStore) AddPersonalPlan(ctx context.Context, p plan.PersonalPlan) (int64, error) {
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := s.execWrite(ctx,
		`INSERT INTO personal_subscribers(user_id, interval_minutes, first_fire_time, created_at)
		 VALUES(?,?,?,?)`,
		p.UserID, p.IntervalMinutes, fmtTime(p.FirstFire), fmtTime(created))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) DeletePersonalPlan(ctx context.Context, userID, planID int64) error {
	_, err := s.execWrite(ctx,
		`DELETE FROM personal_subscribers WHERE id = ? AND user_id = ?`, planID, userID)
	return err
}

func (s *sqliteStore) UserPersonalPlans(ctx context.Context, userID int64) ([]plan.PersonalPlan, error) {
	return s.queryPlans(ctx,
		`SELECT id, user_id, interval_minutes, first_fire_time, created_at
		 FROM personal_subscribers WHERE user_id = ? ORDER BY created_at, id`, userID)
}

func (s *sqliteStore) AllPersonalPlans(ctx context.Context) ([]plan.PersonalPlan, error) {
	return s.queryPlans(ctx,
		`SELECT id, user_id, interval_minutes, first_fire_time, created_at
		 FROM personal_subscribers`)
}

func (s *sqliteStore) CountPersonalPlans(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM personal_subscribers WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

func (s *sqliteStore) queryPlans(ctx context.Context, query string, args ...any) ([]plan.PersonalPlan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []plan.PersonalPlan
	for rows.Next() {
		var p plan.PersonalPlan
		var first, created string
		if err := rows.Scan(&p.ID, &p.UserID, &p.IntervalMinutes, &first, &created); err != nil {
			return nil, err
		}
		if p.FirstFire, err = parseTime(first); err != nil {
			return nil, fmt.Errorf("plan %d: %w", p.ID, err)
		}
		if p.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("plan %d: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- user clock settings ---

func (s *sqliteStore) TimeSetting(ctx context.Context, userID int64) (userclock.Setting, error) {
	var (
		tz     sql.NullString
		offset int
		method string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT timezone, offset_minutes, tz_method FROM user_settings WHERE user_id = ?`,
		userID).Scan(&tz, &offset, &method)
	if errors.Is(err, sql.ErrNoRows) {
		return userclock.Setting{}, nil
	}
	if err != nil {
		return userclock.Setting{}, err
	}
	return userclock.Setting{
		Timezone:      tz.String,
		OffsetMinutes: offset,
		Method:        userclock.Method(method),
	}, nil
}

func (s *sqliteStore) SetTimeSetting(ctx context.Context, userID int64, set userclock.Setting) error {
	_, err := s.execWrite(ctx,
		`INSERT INTO user_settings(user_id, timezone, offset_minutes, tz_method, updated_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   timezone = excluded.timezone,
		   offset_minutes = excluded.offset_minutes,
		   tz_method = excluded.tz_method,
		   updated_at = excluded.updated_at`,
		userID, nullStr(set.Timezone), set.OffsetMinutes, string(set.Method), fmtTime(time.Now()))
	return err
}

// --- tier state ---

func (s *sqliteStore) TierState(ctx context.Context, userID int64) (tier.State, error) {
	var (
		t   int
		end sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT tier, subscription_end FROM user_settings WHERE user_id = ?`,
		userID).Scan(&t, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return tier.State{UserID: userID, Tier: tier.Free}, nil
	}
	if err != nil {
		return tier.State{}, err
	}
	st := tier.State{UserID: userID, Tier: tier.Tier(t)}
	if end.Valid && end.String != "" {
		at, err := parseTime(end.String)
		if err != nil {
			return tier.State{}, fmt.Errorf("user %d: %w", userID, err)
		}
		st.SubscriptionEnd = &at
	}
	return st, nil
}

func (s *sqliteStore) SetTier(ctx context.Context, userID int64, t tier.Tier, end *time.Time) error {
	var endVal any
	if end != nil {
		endVal = fmtTime(*end)
	}
	_, err := s.execWrite(ctx,
		`INSERT INTO user_settings(user_id, tier, subscription_end, updated_at)
		 VALUES(?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   tier = excluded.tier,
		   subscription_end = excluded.subscription_end,
		   updated_at = excluded.updated_at`,
		userID, int(t), endVal, fmtTime(time.Now()))
	return err
}

func (s *sqliteStore) ClearSubscriptionEnd(ctx context.Context, userID int64) error {
	_, err := s.execWrite(ctx,
		`UPDATE user_settings SET subscription_end = NULL, updated_at = ? WHERE user_id = ?`,
		fmtTime(time.Now()), userID)
	return err
}

func (s *sqliteStore) ListExpiredTiers(ctx context.Context, now time.Time) ([]tier.State, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, tier, subscription_end FROM user_settings
		 WHERE subscription_end IS NOT NULL AND subscription_end <= ?`,
		fmtTime(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []tier.State
	for rows.Next() {
		var (
			st  tier.State
			t   int
			end string
		)
		if err := rows.Scan(&st.UserID, &t, &end); err != nil {
			return nil, err
		}
		st.Tier = tier.Tier(t)
		at, err := parseTime(end)
		if err != nil {
			return nil, fmt.Errorf("user %d: %w", st.UserID, err)
		}
		st.SubscriptionEnd = &at
		out = append(out, st)
	}
	return out, rows.Err()
}

// fmtTime stores UTC RFC3339 at second precision. The fixed width keeps
// lexicographic order equal to time order, so subscription_end comparisons
// work as plain string comparisons.
func fmtTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
