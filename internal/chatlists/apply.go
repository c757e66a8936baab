package chatlists

import (
	"context"
)

// StoreApplier is the production UpdatesApplier: it folds a remote update
// batch straight into the local store in one transaction.
type StoreApplier struct {
	store Store
}

func NewStoreApplier(store Store) *StoreApplier {
	return &StoreApplier{store: store}
}

func (a *StoreApplier) ApplyUpdates(ctx context.Context, updates *RemoteUpdates) error {
	if updates == nil {
		return nil
	}
	return a.store.Update(ctx, func(tx Tx) error {
		for _, def := range updates.Folders {
			tx.UpsertFolder(def)
		}
		mergePeers(tx, updates.Peers)
		return nil
	})
}
