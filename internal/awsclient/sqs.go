package awsclient

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"

	"github.com/tphakala/migration-assistant/internal/errors"
)

// SQSQueueDepth reads the approximate depth of a queue.
type SQSQueueDepth struct {
	api sqsiface.SQSAPI
}

// NewSQSQueueDepth creates a depth reader from a session.
func NewSQSQueueDepth(sess client.ConfigProvider) *SQSQueueDepth {
	return &SQSQueueDepth{api: sqs.New(sess)}
}

// NewSQSQueueDepthWithAPI creates a depth reader over an existing client.
func NewSQSQueueDepthWithAPI(api sqsiface.SQSAPI) *SQSQueueDepth {
	return &SQSQueueDepth{api: api}
}

// ApproximateDepth returns the visible and in-flight message counts.
func (q *SQSQueueDepth) ApproximateDepth(ctx context.Context, queueURL string) (visible, inFlight int64, err error) {
	out, err := q.api.GetQueueAttributesWithContext(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(queueURL),
		AttributeNames: aws.StringSlice([]string{
			sqs.QueueAttributeNameApproximateNumberOfMessages,
			sqs.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
		}),
	})
	if err != nil {
		return 0, 0, errors.New(err).
			Component("awsclient").
			Category(errors.CategoryNetwork).
			Context("queue_url", queueURL).
			Build()
	}

	if visible, err = attributeInt(out.Attributes, sqs.QueueAttributeNameApproximateNumberOfMessages); err != nil {
		return 0, 0, err
	}
	if inFlight, err = attributeInt(out.Attributes, sqs.QueueAttributeNameApproximateNumberOfMessagesNotVisible); err != nil {
		return 0, 0, err
	}
	return visible, inFlight, nil
}

func attributeInt(attrs map[string]*string, name string) (int64, error) {
	raw, ok := attrs[name]
	if !ok || raw == nil {
		return 0, nil
	}
	n, err := strconv.ParseInt(*raw, 10, 64)
	if err != nil {
		return 0, errors.Newf("queue attribute %s is not a number: %q", name, *raw).
			Component("awsclient").
			Category(errors.CategoryValidation).
			Build()
	}
	return n, nil
}
