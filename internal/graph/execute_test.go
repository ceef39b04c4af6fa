package graph

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/graphql-go/graphql"

	"github.com/darkden-lab/postfeed/internal/posts"
	"github.com/darkden-lab/postfeed/internal/pubsub"
)

type postData struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func decodeData(t *testing.T, res *graphql.Result, v interface{}) {
	t.Helper()
	if res.HasErrors() {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	raw, err := json.Marshal(res.Data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("unmarshal data %s: %v", raw, err)
	}
}

func waitForSubscribers(t *testing.T, b *pubsub.Broker, topic string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.SubscriberCount(topic) != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers on %s, have %d", n, topic, b.SubscriberCount(topic))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestExecute_CreateThenQuery(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	var created struct {
		CreatePost postData `json:"createPost"`
	}
	decodeData(t, e.Execute(ctx, Request{
		Query:     `mutation ($t: String!, $c: String!) { createPost(title: $t, content: $c) { id title content } }`,
		Variables: map[string]interface{}{"t": "A", "c": "B"},
	}), &created)

	if created.CreatePost != (postData{ID: 1, Title: "A", Content: "B"}) {
		t.Errorf("unexpected created post %+v", created.CreatePost)
	}

	var listed struct {
		Posts []postData `json:"posts"`
		Post  *postData  `json:"post"`
	}
	decodeData(t, e.Execute(ctx, Request{Query: `{ posts { id title } post(id: 1) { content } }`}), &listed)

	if len(listed.Posts) != 1 || listed.Posts[0].Title != "A" {
		t.Errorf("unexpected posts %+v", listed.Posts)
	}
	if listed.Post == nil || listed.Post.Content != "B" {
		t.Errorf("unexpected post %+v", listed.Post)
	}
}

func TestExecute_MissingPostIsNull(t *testing.T) {
	e, _, _ := newTestEngine(t)

	var out struct {
		Post *postData `json:"post"`
	}
	decodeData(t, e.Execute(context.Background(), Request{Query: `{ post(id: 5) { id } }`}), &out)
	if out.Post != nil {
		t.Errorf("expected null post, got %+v", out.Post)
	}
}

func TestExecute_UpdateMissingPostReportsNotFound(t *testing.T) {
	e, _, broker := newTestEngine(t)
	s, _ := broker.Subscribe(pubsub.TopicPostUpdated)

	res := e.Execute(context.Background(), Request{Query: `mutation { updatePost(id: 99, title: "x") { id } }`})
	if len(res.Errors) != 1 {
		t.Fatalf("expected one error, got %v", res.Errors)
	}
	if !strings.Contains(res.Errors[0].Message, "99") {
		t.Errorf("expected error naming 99, got %q", res.Errors[0].Message)
	}
	if res.Errors[0].Extensions["code"] != posts.CodeNotFound {
		t.Errorf("expected code %s, got %v", posts.CodeNotFound, res.Errors[0].Extensions)
	}
	if n := countEvents(t, s); n != 0 {
		t.Errorf("expected no events, got %d", n)
	}
}

func TestExecute_MissingRequiredArgumentNeverReachesStore(t *testing.T) {
	e, store, _ := newTestEngine(t)

	res := e.Execute(context.Background(), Request{Query: `mutation { createPost(content: "x") { id } }`})
	if !res.HasErrors() {
		t.Fatal("expected validation error")
	}
	if store.calls.Load() != 0 {
		t.Errorf("expected no store calls, got %d", store.calls.Load())
	}
}

func TestExecute_BlankTitleIsBadUserInput(t *testing.T) {
	e, store, _ := newTestEngine(t)

	res := e.Execute(context.Background(), Request{Query: `mutation { createPost(title: "", content: "x") { id } }`})
	if len(res.Errors) != 1 {
		t.Fatalf("expected one error, got %v", res.Errors)
	}
	if res.Errors[0].Extensions["code"] != posts.CodeBadUserInput {
		t.Errorf("expected code %s, got %v", posts.CodeBadUserInput, res.Errors[0].Extensions)
	}
	if store.calls.Load() != 0 {
		t.Errorf("expected no store calls, got %d", store.calls.Load())
	}
}

func TestExecute_RejectsSubscription(t *testing.T) {
	e, _, broker := newTestEngine(t)

	res := e.Execute(context.Background(), Request{Query: `subscription { postCreated { id } }`})
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0].Message, "websocket") {
		t.Fatalf("expected websocket transport error, got %v", res.Errors)
	}
	if broker.SubscriberCount(pubsub.TopicPostCreated) != 0 {
		t.Error("rejected subscription must not register a stream")
	}
}

func TestSubscribe_ReceivesCreatedPost(t *testing.T) {
	e, _, broker := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results, err := e.Subscribe(ctx, Request{Query: `subscription { postCreated { id title content } }`})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	waitForSubscribers(t, broker, pubsub.TopicPostCreated, 1)

	if _, err := e.CreatePost(context.Background(), posts.NewPost{Title: "A", Content: "B"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	select {
	case res := <-results:
		var out struct {
			PostCreated postData `json:"postCreated"`
		}
		decodeData(t, res, &out)
		if out.PostCreated != (postData{ID: 1, Title: "A", Content: "B"}) {
			t.Errorf("unexpected event %+v", out.PostCreated)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscription result")
	}
}

func TestSubscribe_TwoSubscribersSeeSameOrder(t *testing.T) {
	e, _, broker := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := Request{Query: `subscription { postCreated { title } }`}
	first, err := e.Subscribe(ctx, req)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	second, err := e.Subscribe(ctx, req)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	waitForSubscribers(t, broker, pubsub.TopicPostCreated, 2)

	titles := []string{"one", "two", "three"}
	for _, title := range titles {
		if _, err := e.CreatePost(context.Background(), posts.NewPost{Title: title}); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	read := func(ch <-chan *graphql.Result, delay time.Duration) []string {
		var got []string
		for range titles {
			time.Sleep(delay)
			select {
			case res := <-ch:
				var out struct {
					PostCreated postData `json:"postCreated"`
				}
				decodeData(t, res, &out)
				got = append(got, out.PostCreated.Title)
			case <-time.After(2 * time.Second):
				t.Fatal("timed out waiting for subscription result")
			}
		}
		return got
	}

	fast := read(first, 0)
	slow := read(second, 20*time.Millisecond)
	for i, title := range titles {
		if fast[i] != title || slow[i] != title {
			t.Fatalf("expected %v for both, got fast=%v slow=%v", titles, fast, slow)
		}
	}
}

func TestSubscribe_CancelReleasesStream(t *testing.T) {
	e, _, broker := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())

	results, err := e.Subscribe(ctx, Request{Query: `subscription { postDeleted { id } }`})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	waitForSubscribers(t, broker, pubsub.TopicPostDeleted, 1)

	cancel()

	select {
	case _, ok := <-results:
		for ok {
			_, ok = <-results
		}
	case <-time.After(2 * time.Second):
		t.Fatal("results channel was not closed after cancel")
	}

	if n := broker.SubscriberCount(pubsub.TopicPostDeleted); n != 0 {
		t.Errorf("expected stream to be deregistered once results close, %d remain", n)
	}
	if _, err := broker.Publish(pubsub.TopicPostDeleted, posts.Post{ID: 1}); err != nil {
		t.Errorf("publish after cancel failed: %v", err)
	}
}

func TestSubscribe_RejectsQuery(t *testing.T) {
	e, _, _ := newTestEngine(t)

	if _, err := e.Subscribe(context.Background(), Request{Query: `{ posts { id } }`}); err == nil {
		t.Fatal("expected error subscribing to a query")
	}
}

func TestSubscribe_BrokerShutdownEndsSubscription(t *testing.T) {
	e, _, broker := newTestEngine(t)

	results, err := e.Subscribe(context.Background(), Request{Query: `subscription { postUpdated { id } }`})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	waitForSubscribers(t, broker, pubsub.TopicPostUpdated, 1)

	broker.Shutdown()

	done := make(chan struct{})
	go func() {
		for range results {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end after broker shutdown")
	}
}

func TestErrorResult(t *testing.T) {
	res := ErrorResult(errors.New("boom"))
	if len(res.Errors) != 1 || res.Errors[0].Message != "boom" {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Data != nil {
		t.Errorf("expected no data, got %v", res.Data)
	}
}
