package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSNSNotifier_Publish(t *testing.T) {
	client := &MockSNSClient{}
	client.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		return aws.ToString(in.TopicArn) == "arn:aws:sns:topic" &&
			aws.ToString(in.Subject) == "High Error Rate" &&
			aws.ToString(in.Message) == "error rate is 20%"
	})).Return(&sns.PublishOutput{}, nil)

	notifier := NewSNSNotifier(client, "arn:aws:sns:topic", nil)

	err := notifier.Publish(context.Background(), "High Error Rate", "error rate is 20%")

	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestSNSNotifier_Publish_PropagatesError(t *testing.T) {
	client := &MockSNSClient{}
	client.On("Publish", mock.Anything, mock.Anything).
		Return(nil, errors.New("topic deleted"))

	notifier := NewSNSNotifier(client, "arn:aws:sns:topic", nil)

	err := notifier.Publish(context.Background(), "subject", "message")

	assert.Error(t, err)
}
