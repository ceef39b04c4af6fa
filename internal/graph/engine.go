// Package graph resolves GraphQL queries and mutations against the post
// store and hands subscriptions a live stream from the event broker.
//
// Mutations follow commit-then-notify: the store write completes first and
// only a successful write is published.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/graphql-go/graphql"

	"github.com/darkden-lab/postfeed/internal/posts"
	"github.com/darkden-lab/postfeed/internal/pubsub"
)

// Engine executes operations against a Store and a Broker.
type Engine struct {
	store  posts.Store
	broker *pubsub.Broker
	schema graphql.Schema
}

// NewEngine builds the GraphQL schema over store and broker.
func NewEngine(store posts.Store, broker *pubsub.Broker) (*Engine, error) {
	e := &Engine{store: store, broker: broker}
	schema, err := e.buildSchema()
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}
	e.schema = schema
	return e, nil
}

// Posts lists every stored post.
func (e *Engine) Posts(ctx context.Context) ([]posts.Post, error) {
	return e.store.List(ctx)
}

// Post returns the post with id, or nil when there is none.
func (e *Engine) Post(ctx context.Context, id int) (*posts.Post, error) {
	p, err := e.store.Get(ctx, id)
	if errors.Is(err, posts.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePost stores a new post and publishes it on TopicPostCreated.
func (e *Engine) CreatePost(ctx context.Context, in posts.NewPost) (posts.Post, error) {
	if err := in.Validate(); err != nil {
		return posts.Post{}, err
	}
	p, err := e.store.Create(ctx, in)
	if err != nil {
		return posts.Post{}, err
	}
	e.publish(pubsub.TopicPostCreated, p)
	return p, nil
}

// UpdatePost applies patch to post id and publishes the result on
// TopicPostUpdated.
func (e *Engine) UpdatePost(ctx context.Context, id int, patch posts.PostPatch) (posts.Post, error) {
	if err := patch.Validate(); err != nil {
		return posts.Post{}, err
	}
	p, err := e.store.Update(ctx, id, patch)
	if err != nil {
		return posts.Post{}, err
	}
	e.publish(pubsub.TopicPostUpdated, p)
	return p, nil
}

// DeletePost removes post id and publishes its last snapshot on
// TopicPostDeleted.
func (e *Engine) DeletePost(ctx context.Context, id int) (posts.Post, error) {
	p, err := e.store.Delete(ctx, id)
	if err != nil {
		return posts.Post{}, err
	}
	e.publish(pubsub.TopicPostDeleted, p)
	return p, nil
}

// Watch opens a broker stream for topic. The caller owns the stream and
// must close it.
func (e *Engine) Watch(topic string) (*pubsub.Stream, error) {
	if !pubsub.IsKnownTopic(topic) {
		return nil, &posts.ValidationError{Field: "topic", Reason: fmt.Sprintf("unknown topic %q", topic)}
	}
	return e.broker.Subscribe(topic)
}

// publish runs after a committed write. A failure here cannot undo the
// write, so it is logged rather than returned.
func (e *Engine) publish(topic string, p posts.Post) {
	if _, err := e.broker.Publish(topic, p); err != nil {
		log.Printf("graph: post %d committed but not published on %s: %v", p.ID, topic, err)
	}
}
