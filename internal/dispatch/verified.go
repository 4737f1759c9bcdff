package dispatch

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/aelexs/archivebot/internal/domain"
)

// VerifiedUserView is a read-through cache of verified users keyed by
// transport identity. It is an accelerator only; verification writes go
// to persistence and entries may briefly be stale.
type VerifiedUserView struct {
	cache  *expirable.LRU[string, domain.User]
	lookup func(ctx context.Context, sender domain.Identity) (domain.User, error)
}

func NewVerifiedUserView(size int, ttl time.Duration, lookup func(ctx context.Context, sender domain.Identity) (domain.User, error)) *VerifiedUserView {
	return &VerifiedUserView{
		cache:  expirable.NewLRU[string, domain.User](size, nil, ttl),
		lookup: lookup,
	}
}

// Get returns the verified user for sender, filling the cache on a miss.
// Unverified senders are never cached.
func (v *VerifiedUserView) Get(ctx context.Context, sender domain.Identity) (domain.User, error) {
	if user, ok := v.cache.Get(sender.String()); ok {
		return user, nil
	}
	user, err := v.lookup(ctx, sender)
	if err != nil {
		return domain.User{}, err
	}
	if !user.Verified {
		return domain.User{}, domain.ErrNotVerified
	}
	v.cache.Add(sender.String(), user)
	return user, nil
}

// Forget drops sender so the next Get reads persistence.
func (v *VerifiedUserView) Forget(sender domain.Identity) {
	v.cache.Remove(sender.String())
}
