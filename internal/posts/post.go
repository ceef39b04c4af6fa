// Package posts is the gateway to the persistent post store. Stores are the
// only owners of post state; callers only ever see snapshots.
package posts

import (
	"context"
	"strings"
)

// Post is a snapshot of a stored post.
type Post struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// NewPost holds the fields of a post to create.
type NewPost struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// PostPatch holds a partial update. Nil fields are left unchanged.
type PostPatch struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
}

// Store is the create/read/update/delete boundary of the persistent store.
// Every method is atomic for a single post.
type Store interface {
	Create(ctx context.Context, in NewPost) (Post, error)
	// Get returns a *NotFoundError when no post has the given id.
	Get(ctx context.Context, id int) (Post, error)
	List(ctx context.Context) ([]Post, error)
	// Update returns a *NotFoundError when no post has the given id.
	Update(ctx context.Context, id int, patch PostPatch) (Post, error)
	// Delete returns a *NotFoundError when no post has the given id.
	Delete(ctx context.Context, id int) (Post, error)
}

// Validate reports the first problem with in, if any.
func (in NewPost) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	return nil
}

// Validate reports the first problem with p, if any.
func (p PostPatch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	return nil
}

func (p PostPatch) apply(post Post) Post {
	if p.Title != nil {
		post.Title = *p.Title
	}
	if p.Content != nil {
		post.Content = *p.Content
	}
	return post
}
