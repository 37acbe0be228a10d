package healthchecker

import (
	"context"

	"github.com/sablelabs/sable/internal/store"
)

func CheckStore() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := store.NewClient(ctx)
	if err != nil {
		return err
	}

	return client.Close()
}
