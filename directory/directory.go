// Package directory implements the token-holder recipient directory
// (spec.md §4.3): a TTL-cached list of recipient entries plus a derived
// hash160 → address lookup map, refreshed with single-flight semantics so
// concurrent callers share one in-flight fetch. Grounded on
// golang.org/x/sync/singleflight for the refresh coalescing and on
// cryptomsg.Provider.Hash160 for the fingerprinting already used by the
// envelope codec.
package directory

import (
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/flokiorg/depinterm/cryptomsg"
	"github.com/flokiorg/depinterm/errs"
	"github.com/flokiorg/depinterm/rpcclient"
)

// RefreshInterval is the TTL applied to both the entry list and the
// derived hash map (RECIPIENT_CACHE_REFRESH_MS).
const RefreshInterval = 60 * time.Second

// RecipientEntry is one token holder after filtering and normalization.
type RecipientEntry struct {
	Address string
	Pubkey  string
}

// cacheEntry mirrors the generic CacheEntry shape from spec.md §3: a
// value plus the timestamp it was last populated at. pending-refresh
// coalescing is delegated to the singleflight.Group instead of being
// modeled as cache state.
type cacheEntry[T any] struct {
	value     T
	updatedAt time.Time
	valid     bool
}

func (c *cacheEntry[T]) fresh(ttl time.Duration) bool {
	return c.valid && time.Since(c.updatedAt) < ttl
}

// Directory serves the recipient list and its derived hash map, backed by
// list_depin_addresses, refreshed on a TTL with single-flight coalescing.
type Directory struct {
	rpc   *rpcclient.Client
	token string

	mu       sync.Mutex
	entries  cacheEntry[[]RecipientEntry]
	hashMap  cacheEntry[map[string]string]
	fetch    singleflight.Group
	provider cryptomsg.Provider
}

// New constructs a Directory for token, resolving pubkey fingerprints via
// provider.
func New(rpc *rpcclient.Client, provider cryptomsg.Provider, token string) *Directory {
	return &Directory{rpc: rpc, provider: provider, token: token}
}

// Refresh serves the cached entry list if fresh and !force; otherwise it
// fetches (coalescing concurrent callers onto a single request), falling
// back to a stale cache on failure if one exists.
func (d *Directory) Refresh(force bool) ([]RecipientEntry, error) {
	d.mu.Lock()
	if !force && d.entries.fresh(RefreshInterval) {
		value := d.entries.value
		d.mu.Unlock()
		return value, nil
	}
	d.mu.Unlock()

	v, err, _ := d.fetch.Do("entries", func() (any, error) {
		return d.fetchEntries()
	})

	if err != nil {
		d.mu.Lock()
		stale := d.entries.valid
		staleValue := d.entries.value
		d.mu.Unlock()
		if stale {
			return staleValue, nil
		}
		return nil, err
	}

	return v.([]RecipientEntry), nil
}

func (d *Directory) fetchEntries() ([]RecipientEntry, error) {
	raw, err := d.rpc.ListDepinAddresses(d.token)
	if err != nil {
		return nil, err
	}

	entries := make([]RecipientEntry, 0, len(raw))
	for _, r := range raw {
		entries = append(entries, RecipientEntry{
			Address: r.Address,
			Pubkey:  strings.ToLower(r.Pubkey),
		})
	}
	if len(entries) == 0 {
		return nil, errs.ErrNoRecipients
	}

	d.mu.Lock()
	d.entries = cacheEntry[[]RecipientEntry]{value: entries, updatedAt: time.Now(), valid: true}
	d.hashMap = cacheEntry[map[string]string]{} // invalidate derived map
	d.mu.Unlock()

	return entries, nil
}

// HashMap returns the recipient-hash → address lookup derived from the
// current entry list, forward and reversed-byte forms both mapped (some
// RPC encodings expose the hash160 byte-reversed). First writer wins on a
// collision; the forward form is always inserted before the reverse form.
func (d *Directory) HashMap() (map[string]string, error) {
	d.mu.Lock()
	if d.hashMap.fresh(RefreshInterval) {
		value := d.hashMap.value
		d.mu.Unlock()
		return value, nil
	}
	d.mu.Unlock()

	entries, err := d.Refresh(false)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(entries)*2)
	for _, e := range entries {
		pubBytes, decodeErr := hex.DecodeString(e.Pubkey)
		if decodeErr != nil {
			continue
		}
		h := d.provider.Hash160(pubBytes)

		forward := hex.EncodeToString(h)
		if _, exists := out[forward]; !exists {
			out[forward] = e.Address
		}

		reversed := reverseBytes(h)
		reverseKey := hex.EncodeToString(reversed)
		if _, exists := out[reverseKey]; !exists {
			out[reverseKey] = e.Address
		}
	}

	d.mu.Lock()
	d.hashMap = cacheEntry[map[string]string]{value: out, updatedAt: time.Now(), valid: true}
	d.mu.Unlock()

	return out, nil
}

// PubkeyFor looks up address's pubkey in the cached entry list, forcing
// one refresh on a miss before giving up with
// RecipientPubkeyNotRevealed.
func (d *Directory) PubkeyFor(address string) (string, error) {
	entries, err := d.Refresh(false)
	if err != nil {
		return "", err
	}
	if pk, ok := findPubkey(entries, address); ok {
		return pk, nil
	}

	entries, err = d.Refresh(true)
	if err != nil {
		return "", err
	}
	if pk, ok := findPubkey(entries, address); ok {
		return pk, nil
	}

	return "", errs.NewRecipientPubkeyNotRevealed(address)
}

func findPubkey(entries []RecipientEntry, address string) (string, bool) {
	for _, e := range entries {
		if e.Address == address {
			return e.Pubkey, true
		}
	}
	return "", false
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
