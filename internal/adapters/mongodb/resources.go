package mongodb

import (
    "context"
    "sync"

    "golang.org/x/sync/singleflight"
)

// resourceInitializer runs the creation of a storage resource once per key.
// Concurrent first uses of the same key share one creation; a failed
// creation is attempted again on the next use.
type resourceInitializer struct {
    group singleflight.Group
    ready sync.Map
}

func (r *resourceInitializer) ensure(ctx context.Context, key string, create func(ctx context.Context) error) error {
    if _, ok := r.ready.Load(key); ok {
        return nil
    }
    _, err, _ := r.group.Do(key, func() (any, error) {
        if _, ok := r.ready.Load(key); ok {
            return nil, nil
        }
        if err := create(ctx); err != nil {
            return nil, err
        }
        r.ready.Store(key, struct{}{})
        return nil, nil
    })
    return err
}
