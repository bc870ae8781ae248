package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxibcn/reten/internal/ledger"
)

func closedAt(id string, in, out time.Time) ledger.PresenceRecord {
	return ledger.PresenceRecord{
		ID: id, DeviceID: "3f2b8c1e-9a4d-4e7f-b1c2-0d5e6f7a8b9c", Zone: "T1",
		EnteredAt: in, ExitedAt: &out, Latitude: 41.293, Longitude: 2.0535,
	}
}

func TestCutoff(t *testing.T) {
	now := time.Date(2025, 3, 14, 17, 45, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 2, 12, 0, 0, 0, 0, time.UTC), Cutoff(now, 30*24*time.Hour))
}

func TestBatchesGroupByExitDay(t *testing.T) {
	d1 := time.Date(2025, 1, 10, 23, 30, 0, 0, time.UTC)
	d2 := time.Date(2025, 1, 11, 0, 15, 0, 0, time.UTC)

	batches, err := Batches("presence", []ledger.PresenceRecord{
		closedAt("b", d2.Add(-time.Hour), d2),
		closedAt("a", d1.Add(-time.Hour), d1),
		closedAt("c", d1.Add(-20*time.Minute), d1.Add(10*time.Minute)),
	})
	require.NoError(t, err)
	require.Len(t, batches, 2)

	assert.Equal(t, "presence/2025-01-10.ndjson", batches[0].Key)
	assert.Equal(t, []string{"a"}, batches[0].IDs)
	assert.Equal(t, "presence/2025-01-11.ndjson", batches[1].Key)
	assert.Equal(t, []string{"b", "c"}, batches[1].IDs)

	sc := bufio.NewScanner(bytes.NewReader(batches[1].Body))
	var lines int
	for sc.Scan() {
		var rec ledger.PresenceRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		assert.NotNil(t, rec.ExitedAt)
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestBatchesRejectOpenRecords(t *testing.T) {
	_, err := Batches("p", []ledger.PresenceRecord{{ID: "x", EnteredAt: time.Now()}})
	require.ErrorIs(t, err, ErrOpenRecord)
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; ok {
		return &s3.HeadObjectOutput{}, nil
	}
	return nil, &types.NotFound{}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func TestUpload(t *testing.T) {
	api := &fakeS3{objects: map[string][]byte{}}
	batches := []Batch{{Key: "p/2025-01-10.ndjson", Body: []byte("{}\n")}}

	require.NoError(t, Upload(context.Background(), api, "bkt", batches))
	assert.Equal(t, []byte("{}\n"), api.objects["p/2025-01-10.ndjson"])

	err := Upload(context.Background(), api, "bkt", batches)
	require.True(t, errors.Is(err, ErrObjectExists))
}
