// Package repository reads test cohorts, student status and scores for the monitor.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"livecode/internal/common/cache"
	"livecode/internal/common/db"
	"livecode/internal/monitor/model"
)

const (
	defaultCohortTTL      = 30 * time.Minute
	defaultCohortEmptyTTL = time.Minute
	cohortKeyPrefix       = "monitor:cohort:"
)

var ErrTestNotFound = errors.New("test not found")

const (
	cohortQuery = `
		SELECT start_year, branch, section
		FROM tests
		WHERE id = ?`

	cohortStudentsQuery = `
		SELECT s.id, s.given_name, s.surname, s.email, s.pin,
			ts.status, ts.progress, ts.start_time, ts.end_time, ts.duration,
			ts.errors, ts.wpm, ts.similarity, ts.last_active_at
		FROM students s
		LEFT JOIN test_status ts ON ts.student_id = s.id AND ts.test_id = ?
		WHERE s.start_year = ? AND s.branch = ? AND s.section = ?`

	// Ties on submitted_at resolve to the highest submission id.
	latestScoresQuery = `
		SELECT sub.student_id, sub.score
		FROM submissions sub
		JOIN (
			SELECT student_id, MAX(submitted_at) AS latest
			FROM submissions
			WHERE test_id = ?
			GROUP BY student_id
		) last ON last.student_id = sub.student_id AND last.latest = sub.submitted_at
		WHERE sub.test_id = ?
		ORDER BY sub.id`
)

// MonitorRepository is the read-only store behind the snapshot synchronizer.
type MonitorRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewMonitorRepository(database db.Database, cacheClient cache.Cache) *MonitorRepository {
	return NewMonitorRepositoryWithTTL(database, cacheClient, defaultCohortTTL, defaultCohortEmptyTTL)
}

func NewMonitorRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *MonitorRepository {
	if ttl <= 0 {
		ttl = defaultCohortTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultCohortEmptyTTL
	}
	return &MonitorRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

// GetCohort returns the cohort filter of testID, or ErrTestNotFound.
func (r *MonitorRepository) GetCohort(ctx context.Context, testID string) (model.CohortFilter, error) {
	filter, err := cache.GetWithCached[*model.CohortFilter](
		ctx,
		r.cache,
		cohortKey(testID),
		r.ttl,
		r.emptyTTL,
		func(f *model.CohortFilter) bool { return f == nil },
		marshalCohort,
		unmarshalCohort,
		func(ctx context.Context) (*model.CohortFilter, error) {
			f, err := r.getCohortFromDB(ctx, testID)
			if errors.Is(err, ErrTestNotFound) {
				return nil, nil
			}
			return f, err
		},
	)
	if err != nil {
		return model.CohortFilter{}, err
	}
	if filter == nil {
		return model.CohortFilter{}, ErrTestNotFound
	}
	return *filter, nil
}

// ListCohortStudents returns every student of filter with its status row for testID.
func (r *MonitorRepository) ListCohortStudents(ctx context.Context, testID string, filter model.CohortFilter) ([]model.StudentRow, error) {
	rows, err := r.db.Query(ctx, cohortStudentsQuery, testID, filter.StartYear, filter.Branch, filter.Section)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.StudentRow
	for rows.Next() {
		row, err := scanStudentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LatestScores maps student id to the score of its most recent submission for testID.
func (r *MonitorRepository) LatestScores(ctx context.Context, testID string) (map[string]float64, error) {
	rows, err := r.db.Query(ctx, latestScoresQuery, testID, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scores := make(map[string]float64)
	for rows.Next() {
		var (
			studentID string
			score     sql.NullFloat64
		)
		if err := rows.Scan(&studentID, &score); err != nil {
			return nil, err
		}
		scores[studentID] = score.Float64
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return scores, nil
}

func (r *MonitorRepository) getCohortFromDB(ctx context.Context, testID string) (*model.CohortFilter, error) {
	var f model.CohortFilter
	err := r.db.QueryRow(ctx, cohortQuery, testID).Scan(&f.StartYear, &f.Branch, &f.Section)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrTestNotFound
		}
		return nil, err
	}
	return &f, nil
}

func scanStudentRow(scanner db.Row) (model.StudentRow, error) {
	var (
		row          model.StudentRow
		status       sql.NullString
		progress     sql.NullFloat64
		startTime    sql.NullTime
		endTime      sql.NullTime
		duration     sql.NullInt64
		errCount     sql.NullInt64
		wpm          sql.NullFloat64
		similarity   sql.NullFloat64
		lastActiveAt sql.NullTime
	)
	err := scanner.Scan(
		&row.StudentID,
		&row.GivenName,
		&row.Surname,
		&row.Email,
		&row.PIN,
		&status,
		&progress,
		&startTime,
		&endTime,
		&duration,
		&errCount,
		&wpm,
		&similarity,
		&lastActiveAt,
	)
	if err != nil {
		return model.StudentRow{}, err
	}
	if status.Valid {
		row.Status = &status.String
	}
	if progress.Valid {
		row.Progress = &progress.Float64
	}
	row.StartTime = nullTime(startTime)
	row.EndTime = nullTime(endTime)
	if duration.Valid {
		row.Duration = &duration.Int64
	}
	if errCount.Valid {
		n := int(errCount.Int64)
		row.Errors = &n
	}
	if wpm.Valid {
		row.WPM = &wpm.Float64
	}
	if similarity.Valid {
		row.Similarity = &similarity.Float64
	}
	row.LastActiveAt = nullTime(lastActiveAt)
	return row, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func cohortKey(testID string) string {
	return cohortKeyPrefix + testID
}

func marshalCohort(f *model.CohortFilter) (string, error) {
	payload, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func unmarshalCohort(data string) (*model.CohortFilter, error) {
	var f model.CohortFilter
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		return nil, err
	}
	return &f, nil
}
