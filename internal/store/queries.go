package store

import (
	"context"

	"filingctl/internal/model"
)

func (s *Store) List(ctx context.Context, opts model.ListOpts) ([]*model.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}

	if opts.State != "" {
		q += " WHERE state = ?"
		args = append(args, string(opts.State))
	}
	q += " ORDER BY created_at ASC"
	if opts.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, j)
	}
	return result, rows.Err()
}

func (s *Store) CountByState(ctx context.Context) (map[model.State]int, error) {
	stats := make(map[model.State]int, len(model.States))
	for _, st := range model.States {
		stats[st] = 0
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[model.State(state)] = count
	}
	return stats, rows.Err()
}
