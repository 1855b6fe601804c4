/*
File Name:  Pogreb.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package store

import (
	"encoding/binary"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/akrylysov/pogreb"
)

// PogrebStore is a key/value store using Pogreb. Expiration is emulated by
// prefixing the stored value with an 8-byte big-endian Unix expiry and
// filtering it out on Get/ExpireKeys, since Pogreb has no native TTL.
type PogrebStore struct {
	mutex    *sync.Mutex
	filename string
	db       *pogreb.DB
}

// NewPogrebStore create a properly initialized Pogreb store.
func NewPogrebStore(filename string) (store *PogrebStore, err error) {
	pogreb.SetLogger(log.New(io.Discard, "", 0))

	// if the database does not exist, it will be created
	db, err := pogreb.Open(filename, nil)
	if err != nil {
		return nil, err
	}

	return &PogrebStore{
		mutex:    &sync.Mutex{},
		filename: filename,
		db:       db,
	}, nil
}

// ExpireKeys deletes all keys whose embedded expiry has passed.
func (store *PogrebStore) ExpireKeys() {
	now := time.Now()

	it := store.db.Items()
	for {
		key, value, err := it.Next()
		if err != nil {
			return
		}
		if expiry, ok := decodeExpiry(value); ok && now.After(expiry) {
			store.db.Delete(key)
		}
	}
}

// Set stores the key/value pair with no expiration.
func (store *PogrebStore) Set(key []byte, data []byte) error {
	return store.db.Put(key, encodeExpiry(data, time.Time{}))
}

// StoreExpire stores the key/value pair and deletes it after the expiration time.
func (store *PogrebStore) StoreExpire(key []byte, data []byte, expiration time.Time) error {
	if expiration.IsZero() {
		return errors.New("store: expiration must be non-zero")
	}
	return store.db.Put(key, encodeExpiry(data, expiration))
}

// Get returns the value for the key if present and not expired.
func (store *PogrebStore) Get(key []byte) (data []byte, found bool) {
	value, err := store.db.Get(key)
	if err != nil || value == nil {
		return nil, false
	}

	data, expiry, ok := splitExpiry(value)
	if ok && time.Now().After(expiry) {
		store.db.Delete(key)
		return nil, false
	}
	return data, true
}

// encodeExpiry prefixes data with an 8-byte big-endian Unix expiry (0 = never).
func encodeExpiry(data []byte, expiration time.Time) []byte {
	var unix int64
	if !expiration.IsZero() {
		unix = expiration.Unix()
	}

	out := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(out, uint64(unix))
	copy(out[8:], data)
	return out
}

// splitExpiry separates a stored value into its payload and expiry time. ok is
// false if the value has no expiration (expiry field is zero).
func splitExpiry(value []byte) (data []byte, expiry time.Time, ok bool) {
	if len(value) < 8 {
		return value, time.Time{}, false
	}
	unix := int64(binary.BigEndian.Uint64(value[:8]))
	if unix == 0 {
		return value[8:], time.Time{}, false
	}
	return value[8:], time.Unix(unix, 0), true
}

func decodeExpiry(value []byte) (expiry time.Time, ok bool) {
	_, expiry, ok = splitExpiry(value)
	return expiry, ok
}

// Delete deletes a key/value pair.
func (store *PogrebStore) Delete(key []byte) {
	store.db.Delete(key)
}

// Close closes the underlying database file.
func (store *PogrebStore) Close() error {
	return store.db.Close()
}
