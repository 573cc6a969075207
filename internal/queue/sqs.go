package queue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSQueue polls with long polling when waitSeconds > 0.
type SQSQueue struct {
	client      *sqs.Client
	name        string
	url         string
	waitSeconds int32
}

func NewSQSClient(cfg aws.Config, endpoint string) *sqs.Client {
	return sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

func NewSQSQueue(client *sqs.Client, name, url string, waitSeconds int) *SQSQueue {
	return &SQSQueue{client: client, name: name, url: url, waitSeconds: int32(waitSeconds)}
}

func (q *SQSQueue) Name() string { return q.name }

func (q *SQSQueue) Send(ctx context.Context, body string) (string, error) {
	out, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}

func (q *SQSQueue) Receive(ctx context.Context, max int) ([]Message, error) {
	return q.receive(ctx, max, q.waitSeconds)
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(receiptHandle),
	})
	return err
}

// Peek receives without waiting and resets the visibility of what it got
// to zero. ReceiveMessage omits a zero VisibilityTimeout, so the reset is a
// separate batch call. Receive counts of peeked messages still go up.
func (q *SQSQueue) Peek(ctx context.Context, max int) ([]Message, error) {
	msgs, err := q.receive(ctx, max, 0)
	if err != nil || len(msgs) == 0 {
		return msgs, err
	}
	entries := make([]types.ChangeMessageVisibilityBatchRequestEntry, 0, len(msgs))
	for i, m := range msgs {
		entries = append(entries, types.ChangeMessageVisibilityBatchRequestEntry{
			Id:                aws.String(strconv.Itoa(i)),
			ReceiptHandle:     aws.String(m.ReceiptHandle),
			VisibilityTimeout: 0,
		})
	}
	out, err := q.client.ChangeMessageVisibilityBatch(ctx, &sqs.ChangeMessageVisibilityBatchInput{
		QueueUrl: aws.String(q.url),
		Entries:  entries,
	})
	if err != nil {
		return msgs, fmt.Errorf("release peeked messages: %w", err)
	}
	if len(out.Failed) > 0 {
		f := out.Failed[0]
		return msgs, fmt.Errorf("release peeked messages: %d failed, first %s: %s",
			len(out.Failed), aws.ToString(f.Code), aws.ToString(f.Message))
	}
	return msgs, nil
}

func (q *SQSQueue) Attributes(ctx context.Context) (Attributes, error) {
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(q.url),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
			types.QueueAttributeNameApproximateNumberOfMessagesDelayed,
		},
	})
	if err != nil {
		return Attributes{}, err
	}
	get := func(k types.QueueAttributeName) int {
		n, _ := strconv.Atoi(out.Attributes[string(k)])
		return n
	}
	return Attributes{
		Visible:  get(types.QueueAttributeNameApproximateNumberOfMessages),
		InFlight: get(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible),
		Delayed:  get(types.QueueAttributeNameApproximateNumberOfMessagesDelayed),
	}, nil
}

func (q *SQSQueue) receive(ctx context.Context, max int, wait int32) ([]Message, error) {
	if max <= 0 || max > 10 {
		max = 10
	}
	in := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     wait,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	}
	out, err := q.client.ReceiveMessage(ctx, in)
	if err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		cnt, _ := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		msgs = append(msgs, Message{
			ID:            aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
			ReceiveCount:  cnt,
		})
	}
	return msgs, nil
}
