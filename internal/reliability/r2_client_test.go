package reliability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestR2Config_Configured(t *testing.T) {
	full := R2Config{AccountID: "acct", AccessKeyID: "key", SecretAccessKey: "secret", Bucket: "backups"}
	assert.True(t, full.Configured())

	withEndpoint := full
	withEndpoint.AccountID = ""
	withEndpoint.Endpoint = "http://localhost:9000"
	assert.True(t, withEndpoint.Configured())

	missingBucket := full
	missingBucket.Bucket = ""
	assert.False(t, missingBucket.Configured())

	missingAccount := full
	missingAccount.AccountID = ""
	assert.False(t, missingAccount.Configured())

	_, err := NewR2Client(context.Background(), R2Config{}, zerolog.Nop())
	assert.Error(t, err)
}

const listResponse = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>backups</Name>
  <Prefix>mbbfolio-backup-</Prefix>
  <KeyCount>2</KeyCount>
  <MaxKeys>1000</MaxKeys>
  <IsTruncated>false</IsTruncated>
  <Contents><Key>mbbfolio-backup-2026-03-14-020000.tar.gz</Key><Size>2048</Size></Contents>
  <Contents><Key>mbbfolio-backup-2026-03-15-020000.tar.gz</Key><Size>4096</Size></Contents>
</ListBucketResult>`

func TestR2Client_ListAndDelete(t *testing.T) {
	var (
		mu       sync.Mutex
		requests []string
	)
	s3Server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, r.Method+" "+r.URL.Path)
		mu.Unlock()

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/backups":
			assert.Equal(t, "2", r.URL.Query().Get("list-type"))
			assert.Equal(t, "mbbfolio-backup-", r.URL.Query().Get("prefix"))
			w.Header().Set("Content-Type", "application/xml")
			_, _ = w.Write([]byte(listResponse))
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotImplemented)
		}
	}))
	defer s3Server.Close()

	client, err := NewR2Client(context.Background(), R2Config{
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Bucket:          "backups",
		Endpoint:        s3Server.URL,
	}, zerolog.Nop())
	require.NoError(t, err)

	objects, err := client.List(context.Background(), "mbbfolio-backup-")
	require.NoError(t, err)
	assert.Equal(t, []ObjectInfo{
		{Key: "mbbfolio-backup-2026-03-14-020000.tar.gz", SizeBytes: 2048},
		{Key: "mbbfolio-backup-2026-03-15-020000.tar.gz", SizeBytes: 4096},
	}, objects)

	require.NoError(t, client.Delete(context.Background(), "mbbfolio-backup-2026-03-14-020000.tar.gz"))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, requests, "DELETE /backups/mbbfolio-backup-2026-03-14-020000.tar.gz")
}
