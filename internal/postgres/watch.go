package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ariefcatur/go-pos-orders/internal/docstore"
)

const changeChannel = "documents_changes"

type changeNote struct {
	Op         string `json:"op"`
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// Watch listens on the documents trigger channel on a dedicated connection
// and delivers changes of coll. The notification carries only the key; the
// document is read when the notification arrives, so a burst of writes to
// one document may be seen as several changes with the latest data.
func (s *DocStore) Watch(ctx context.Context, coll string) (*docstore.Subscription, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, classify("watch "+coll, err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+changeChannel); err != nil {
		conn.Release()
		return nil, classify("listen", err)
	}

	wctx, cancel := context.WithCancel(ctx)
	changes := make(chan docstore.Change, 64)
	errs := make(chan error, 1)

	go func() {
		defer conn.Release()
		defer close(changes)
		for {
			n, err := conn.Conn().WaitForNotification(wctx)
			if err != nil {
				if wctx.Err() == nil {
					errs <- classify("watch "+coll, err)
				}
				// a cancelled wait leaves the connection unusable; do not
				// hand it back to the pool still listening
				_ = conn.Conn().Close(context.Background())
				return
			}
			var note changeNote
			if err := json.Unmarshal([]byte(n.Payload), &note); err != nil {
				s.log.Warn("undecodable change notification", "payload", n.Payload, "error", err)
				continue
			}
			if note.Collection != coll {
				continue
			}
			snap, err := s.Get(wctx, coll, note.ID)
			if err != nil {
				if wctx.Err() == nil {
					errs <- fmt.Errorf("watch %s: %w", coll, err)
				}
				_ = conn.Conn().Close(context.Background())
				return
			}
			typ := docstore.ChangeModified
			if note.Op == "INSERT" {
				typ = docstore.ChangeAdded
			}
			select {
			case changes <- docstore.Change{Type: typ, Doc: snap}:
			case <-wctx.Done():
				_ = conn.Conn().Close(context.Background())
				return
			}
		}
	}()

	return docstore.NewSubscription(changes, errs, cancel), nil
}
