package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/graphql-go/graphql"

	"github.com/darkden-lab/postfeed/internal/posts"
	"github.com/darkden-lab/postfeed/internal/pubsub"
)

func (e *Engine) buildSchema() (graphql.Schema, error) {
	postType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Post",
		Fields: graphql.Fields{
			"id": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Int),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					post, err := sourcePost(p.Source)
					return post.ID, err
				},
			},
			"title": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					post, err := sourcePost(p.Source)
					return post.Title, err
				},
			},
			"content": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					post, err := sourcePost(p.Source)
					return post.Content, err
				},
			},
		},
	})

	idArg := &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)}

	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"posts": &graphql.Field{
				Type: graphql.NewList(postType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return e.Posts(p.Context)
				},
			},
			"post": &graphql.Field{
				Type: postType,
				Args: graphql.FieldConfigArgument{"id": idArg},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					post, err := e.Post(p.Context, intArg(p, "id"))
					if err != nil || post == nil {
						return nil, err
					}
					return *post, nil
				},
			},
		},
	})

	mutation := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"createPost": &graphql.Field{
				Type: postType,
				Args: graphql.FieldConfigArgument{
					"title":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"content": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					title, _ := p.Args["title"].(string)
					content, _ := p.Args["content"].(string)
					return nullOnError(e.CreatePost(p.Context, posts.NewPost{Title: title, Content: content}))
				},
			},
			"updatePost": &graphql.Field{
				Type: postType,
				Args: graphql.FieldConfigArgument{
					"id":      idArg,
					"title":   &graphql.ArgumentConfig{Type: graphql.String},
					"content": &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					var patch posts.PostPatch
					if v, ok := p.Args["title"].(string); ok {
						patch.Title = &v
					}
					if v, ok := p.Args["content"].(string); ok {
						patch.Content = &v
					}
					return nullOnError(e.UpdatePost(p.Context, intArg(p, "id"), patch))
				},
			},
			"deletePost": &graphql.Field{
				Type: postType,
				Args: graphql.FieldConfigArgument{"id": idArg},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return nullOnError(e.DeletePost(p.Context, intArg(p, "id")))
				},
			},
		},
	})

	subscription := graphql.NewObject(graphql.ObjectConfig{
		Name: "Subscription",
		Fields: graphql.Fields{
			"postCreated": e.subscriptionField(postType, pubsub.TopicPostCreated),
			"postUpdated": e.subscriptionField(postType, pubsub.TopicPostUpdated),
			"postDeleted": e.subscriptionField(postType, pubsub.TopicPostDeleted),
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:        query,
		Mutation:     mutation,
		Subscription: subscription,
	})
}

// subscriptionField exposes topic as a subscription root field. Each event
// payload becomes the source of one execution of the field.
func (e *Engine) subscriptionField(postType *graphql.Object, topic string) *graphql.Field {
	return &graphql.Field{
		Type: postType,
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			if err, ok := p.Source.(error); ok {
				return nil, err
			}
			return p.Source, nil
		},
		Subscribe: func(p graphql.ResolveParams) (interface{}, error) {
			stream, err := e.Watch(topic)
			if err != nil {
				return nil, err
			}
			return bridge(p.Context, stream), nil
		},
	}
}

type bridgeGroupKey struct{}

// bridge pumps stream into the channel graphql-go reads subscription
// sources from. The stream is closed as soon as ctx is done. A slow-consumer
// drop is passed on as an error source so the client learns why it ended.
func bridge(ctx context.Context, stream *pubsub.Stream) chan interface{} {
	out := make(chan interface{})

	wg, _ := ctx.Value(bridgeGroupKey{}).(*sync.WaitGroup)
	if wg != nil {
		wg.Add(1)
	}

	go func() {
		defer func() {
			stream.Close()
			close(out)
			if wg != nil {
				wg.Done()
			}
		}()

		for {
			ev, err := stream.Next(ctx)
			var src interface{} = ev.Payload
			if err != nil {
				if !errors.Is(err, pubsub.ErrSlowConsumer) {
					return
				}
				src = err
			}
			select {
			case out <- src:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}

func sourcePost(src interface{}) (posts.Post, error) {
	switch v := src.(type) {
	case posts.Post:
		return v, nil
	case *posts.Post:
		if v != nil {
			return *v, nil
		}
	}
	return posts.Post{}, fmt.Errorf("unexpected post source %T", src)
}

func intArg(p graphql.ResolveParams, name string) int {
	v, _ := p.Args[name].(int)
	return v
}

// nullOnError keeps a failed mutation's field null instead of a zero post.
func nullOnError(p posts.Post, err error) (interface{}, error) {
	if err != nil {
		return nil, err
	}
	return p, nil
}
