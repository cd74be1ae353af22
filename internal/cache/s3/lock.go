package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// lockRecord is the body of the lock object. The same fields are sent as object
// metadata so contention can be resolved with a HEAD request.
type lockRecord struct {
	PID      int       `json:"pid"`
	Host     string    `json:"host"`
	Bucket   string    `json:"bucket"`
	Prefix   string    `json:"prefix,omitempty"`
	Acquired time.Time `json:"acquired"`
	Expires  time.Time `json:"expires"`
}

func (b *Backend) newLockRecord(now time.Time) lockRecord {
	host, _ := os.Hostname()
	return lockRecord{
		PID:      os.Getpid(),
		Host:     host,
		Bucket:   b.cfg.Bucket,
		Prefix:   b.root,
		Acquired: now.UTC(),
		Expires:  now.UTC().Add(lockTTL),
	}
}

func (r lockRecord) meta() map[string]string {
	return map[string]string{
		"pid":     strconv.Itoa(r.PID),
		"host":    r.Host,
		"expires": r.Expires.Format(time.RFC3339),
	}
}

// lock creates key with If-None-Match. A lock whose holder let it expire is
// deleted and taken over.
func (b *Backend) lock(ctx context.Context, key string) (func() error, error) {
	release := func() error {
		return b.client.deleteObject(context.WithoutCancel(ctx), key)
	}
	for range lockAttempts {
		err := b.putLock(ctx, key)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, errS3PreconditionFailed) {
			return nil, err
		}
		headers, err := b.client.headObject(ctx, key)
		if errors.Is(err, errS3NotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		stale, err := lockStale(headers, time.Now())
		if err != nil {
			return nil, err
		}
		if !stale {
			return nil, fmt.Errorf("%w: %s held by %s", errS3LockAlreadyIsExists, key, lockHolder(headers))
		}
		if err := b.client.deleteObject(ctx, key); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", errS3LockAlreadyIsExists, key)
}

func (b *Backend) putLock(ctx context.Context, key string) error {
	record := b.newLockRecord(time.Now())
	body, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return b.client.putObject(ctx, key, bytes.NewReader(body), int64(len(body)), "application/json", "", record.meta(), true, "")
}

// lockStale reports whether the lock described by headers expired at now.
// Locks without an expiry fall back to their modification time.
func lockStale(headers http.Header, now time.Time) (bool, error) {
	if headers == nil {
		return false, errS3LockHeaderIsMissing
	}
	if value := strings.TrimSpace(headers.Get("X-Amz-Meta-Expires")); value != "" {
		expires, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return false, err
		}
		return now.After(expires), nil
	}
	if value := strings.TrimSpace(headers.Get("Last-Modified")); value != "" {
		modified, err := http.ParseTime(value)
		if err != nil {
			return false, err
		}
		return now.Sub(modified) > lockTTL, nil
	}
	return false, errS3LockTimestampIsMissing
}

func lockHolder(headers http.Header) string {
	host := headers.Get("X-Amz-Meta-Host")
	if host == "" {
		host = "unknown host"
	}
	return "pid " + headers.Get("X-Amz-Meta-Pid") + " on " + host
}
