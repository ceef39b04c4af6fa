package posts

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps posts in process memory. It backs tests and local runs
// without a database.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int
	posts  map[int]Post
}

// NewMemoryStore creates an empty MemoryStore. Ids start at 1.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, posts: make(map[int]Post)}
}

func (s *MemoryStore) Create(ctx context.Context, in NewPost) (Post, error) {
	if err := ctx.Err(); err != nil {
		return Post{}, &StoreUnavailableError{Op: "create", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p := Post{ID: s.nextID, Title: in.Title, Content: in.Content}
	s.posts[p.ID] = p
	s.nextID++
	return p, nil
}

func (s *MemoryStore) Get(ctx context.Context, id int) (Post, error) {
	if err := ctx.Err(); err != nil {
		return Post{}, &StoreUnavailableError{Op: "get", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		return Post{}, &NotFoundError{ID: id}
	}
	return p, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, &StoreUnavailableError{Op: "list", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Post, 0, len(s.posts))
	for _, p := range s.posts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, id int, patch PostPatch) (Post, error) {
	if err := ctx.Err(); err != nil {
		return Post{}, &StoreUnavailableError{Op: "update", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		return Post{}, &NotFoundError{ID: id}
	}
	p = patch.apply(p)
	s.posts[id] = p
	return p, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int) (Post, error) {
	if err := ctx.Err(); err != nil {
		return Post{}, &StoreUnavailableError{Op: "delete", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		return Post{}, &NotFoundError{ID: id}
	}
	delete(s.posts, id)
	return p, nil
}
