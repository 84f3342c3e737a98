package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

// Tables implements KV on an Azure Storage table. Each blob lives in its own
// partition with the key doubling as row key, matching the single-writer
// access pattern.
type Tables struct {
	table *aztables.Client
}

// NewTables creates a table-backed KV adapter from the given connection string.
func NewTables(connStr, tableName string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{table: svc.NewClient(tableName)}, nil
}

type blobEntity struct {
	aztables.Entity
	Data string `json:"Data"`
}

func (t *Tables) Read(ctx context.Context, key string) ([]byte, error) {
	resp, err := t.table.GetEntity(ctx, key, key, nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var ent blobEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	return []byte(ent.Data), nil
}

func (t *Tables) Write(ctx context.Context, key string, data []byte) error {
	ent := blobEntity{
		Entity: aztables.Entity{PartitionKey: key, RowKey: key},
		Data:   string(data),
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	if _, err := t.table.UpsertEntity(ctx, payload, nil); err != nil {
		if isTooLarge(err) {
			return ErrQuotaExceeded
		}
		return err
	}
	return nil
}

func (t *Tables) Delete(ctx context.Context, key string) error {
	if _, err := t.table.DeleteEntity(ctx, key, key, nil); err != nil {
		if statusCode(err) == http.StatusNotFound {
			return nil
		}
		return err
	}
	return nil
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

// isTooLarge detects entity and property size rejections, which are the table
// service's quota signal for oversized blobs.
func isTooLarge(err error) bool {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	if respErr.StatusCode == http.StatusRequestEntityTooLarge {
		return true
	}
	switch respErr.ErrorCode {
	case "EntityTooLarge", "PropertyValueTooLarge", "RequestBodyTooLarge":
		return true
	}
	return false
}
