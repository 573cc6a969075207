package queue

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sqsCall struct {
	Action string
	Body   map[string]interface{}
}

// fakeSQS answers the JSON protocol calls the queue makes and records
// every request.
type fakeSQS struct {
	mu    sync.Mutex
	calls []sqsCall
}

func (f *fakeSQS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.Header.Get("X-Amz-Target"), "AmazonSQS.")
	raw, _ := io.ReadAll(r.Body)
	body := map[string]interface{}{}
	_ = json.Unmarshal(raw, &body)
	f.mu.Lock()
	f.calls = append(f.calls, sqsCall{Action: action, Body: body})
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/x-amz-json-1.0")
	switch action {
	case "ReceiveMessage":
		_, _ = w.Write([]byte(`{"Messages":[
			{"MessageId":"m1","ReceiptHandle":"rh-1","Body":"{\"id\":\"n1\"}","Attributes":{"ApproximateReceiveCount":"2"}},
			{"MessageId":"m2","ReceiptHandle":"rh-2","Body":"{\"id\":\"n2\"}","Attributes":{"ApproximateReceiveCount":"1"}}
		]}`))
	case "ChangeMessageVisibilityBatch":
		_, _ = w.Write([]byte(`{"Successful":[{"Id":"0"},{"Id":"1"}],"Failed":[]}`))
	default:
		_, _ = w.Write([]byte(`{}`))
	}
}

func (f *fakeSQS) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Action)
	}
	return out
}

func (f *fakeSQS) call(action string) sqsCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.Action == action {
			return c
		}
	}
	return sqsCall{}
}

func newTestSQSQueue(t *testing.T, waitSeconds int) (*SQSQueue, *fakeSQS) {
	t.Helper()
	fake := &fakeSQS{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	client := sqs.New(sqs.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(srv.URL),
		Credentials:  aws.AnonymousCredentials{},
	})
	return NewSQSQueue(client, Notifications, srv.URL+"/000000000000/notifications", waitSeconds), fake
}

func TestSQSPeekReleasesMessages(t *testing.T) {
	q, fake := newTestSQSQueue(t, 20)

	msgs, err := q.Peek(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, 2, msgs[0].ReceiveCount)

	assert.Equal(t, []string{"ReceiveMessage", "ChangeMessageVisibilityBatch"}, fake.actions())
	recv := fake.call("ReceiveMessage")
	assert.EqualValues(t, 5, recv.Body["MaxNumberOfMessages"])
	assert.NotContains(t, recv.Body, "WaitTimeSeconds", "peek must not long-poll")

	batch := fake.call("ChangeMessageVisibilityBatch")
	entries, ok := batch.Body["Entries"].([]interface{})
	require.True(t, ok)
	require.Len(t, entries, 2)
	for i, e := range entries {
		entry := e.(map[string]interface{})
		assert.Equal(t, []string{"rh-1", "rh-2"}[i], entry["ReceiptHandle"])
		v, present := entry["VisibilityTimeout"]
		require.True(t, present, "visibility timeout must be sent explicitly")
		assert.EqualValues(t, 0, v)
	}
}

func TestSQSReceiveKeepsMessagesHidden(t *testing.T) {
	q, fake := newTestSQSQueue(t, 20)

	msgs, err := q.Receive(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "rh-2", msgs[1].ReceiptHandle)

	assert.Equal(t, []string{"ReceiveMessage"}, fake.actions())
	assert.EqualValues(t, 20, fake.call("ReceiveMessage").Body["WaitTimeSeconds"])
}
