package osx

import (
	"context"
	"errors"
	"fmt"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

func ReadyCheck(client *opensearch.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if client == nil {
			return errors.New("opensearch not configured")
		}
		res, err := opensearchapi.PingRequest{}.Do(ctx, client)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("opensearch ping: %s", res.Status())
		}
		return nil
	}
}
