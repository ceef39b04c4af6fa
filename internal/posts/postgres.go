package posts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore provides CRUD operations for the posts table.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PgStore. The pool is owned by the caller.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Create(ctx context.Context, in NewPost) (Post, error) {
	var p Post
	err := s.pool.QueryRow(ctx,
		`INSERT INTO posts (title, content) VALUES ($1, $2)
		 RETURNING id, title, content`,
		in.Title, in.Content,
	).Scan(&p.ID, &p.Title, &p.Content)
	if err != nil {
		return Post{}, &StoreUnavailableError{Op: "create", Err: err}
	}
	return p, nil
}

func (s *PgStore) Get(ctx context.Context, id int) (Post, error) {
	var p Post
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, content FROM posts WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Title, &p.Content)
	return p, mapRowErr("get", id, err)
}

func (s *PgStore) List(ctx context.Context) ([]Post, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, title, content FROM posts ORDER BY id`)
	if err != nil {
		return nil, &StoreUnavailableError{Op: "list", Err: err}
	}
	defer rows.Close()

	out := []Post{}
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.Title, &p.Content); err != nil {
			return nil, &StoreUnavailableError{Op: "list", Err: err}
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreUnavailableError{Op: "list", Err: err}
	}
	return out, nil
}

func (s *PgStore) Update(ctx context.Context, id int, patch PostPatch) (Post, error) {
	var p Post
	err := s.pool.QueryRow(ctx,
		`UPDATE posts
		 SET title = COALESCE($2, title), content = COALESCE($3, content)
		 WHERE id = $1
		 RETURNING id, title, content`,
		id, patch.Title, patch.Content,
	).Scan(&p.ID, &p.Title, &p.Content)
	return p, mapRowErr("update", id, err)
}

func (s *PgStore) Delete(ctx context.Context, id int) (Post, error) {
	var p Post
	err := s.pool.QueryRow(ctx,
		`DELETE FROM posts WHERE id = $1 RETURNING id, title, content`,
		id,
	).Scan(&p.ID, &p.Title, &p.Content)
	return p, mapRowErr("delete", id, err)
}

func mapRowErr(op string, id int, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return &NotFoundError{ID: id}
	default:
		return &StoreUnavailableError{Op: op, Err: err}
	}
}
