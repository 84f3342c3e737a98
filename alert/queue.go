package alert

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
)

// Queue delivers alert envelopes to the platform notifier agent through an
// Azure Storage queue. The agent raises the actual OS dialogs and reports
// permission answers back over the API.
type Queue struct {
	client *azqueue.QueueClient
}

// NewQueue creates a queue-backed platform from the given connection string.
func NewQueue(connStr, queueName string) (*Queue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	client, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &Queue{client: client}, nil
}

type envelope struct {
	UserID string `json:"userId"`
	Kind   string `json:"kind"`
	Tag    string `json:"tag,omitempty"`
	Alert  *Alert `json:"alert,omitempty"`
}

func (q *Queue) Supported() bool {
	return q != nil && q.client != nil
}

func (q *Queue) Prompt(ctx context.Context, userID string) error {
	return q.enqueue(ctx, envelope{UserID: userID, Kind: "prompt"})
}

func (q *Queue) Show(ctx context.Context, userID string, a Alert) error {
	return q.enqueue(ctx, envelope{UserID: userID, Kind: "show", Tag: a.Tag, Alert: &a})
}

func (q *Queue) Dismiss(ctx context.Context, userID, tag string) error {
	return q.enqueue(ctx, envelope{UserID: userID, Kind: "dismiss", Tag: tag})
}

func (q *Queue) enqueue(ctx context.Context, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueMessage(ctx, string(data), nil)
	return err
}
