package storage

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel_sync/models"
)

type recordingS3 struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
}

func (r *recordingS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	r.inputs = append(r.inputs, in)
	r.bodies = append(r.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Archiver_CompressesUnderDatedKey(t *testing.T) {
	client := &recordingS3{}
	a, err := newS3Archiver(client, "raw-payloads")
	require.NoError(t, err)
	a.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

	payload := []byte(strings.Repeat("BEGIN:VEVENT\nSUMMARY:Reserved\nEND:VEVENT\n", 20))
	require.NoError(t, a.Archive(context.Background(), models.ChannelAirbnb, models.MethodICal, payload))

	require.Len(t, client.inputs, 1)
	assert.Equal(t, "raw-payloads", *client.inputs[0].Bucket)
	assert.True(t, strings.HasPrefix(*client.inputs[0].Key, "airbnb/ical/2024/06/01/"), *client.inputs[0].Key)
	assert.True(t, strings.HasSuffix(*client.inputs[0].Key, ".zst"))

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	plain, err := dec.DecodeAll(client.bodies[0], nil)
	require.NoError(t, err)
	assert.Equal(t, payload, plain)
}

func TestS3Archiver_SkipsEmptyPayload(t *testing.T) {
	client := &recordingS3{}
	a, err := newS3Archiver(client, "b")
	require.NoError(t, err)

	require.NoError(t, a.Archive(context.Background(), models.ChannelVRBO, models.MethodScrape, nil))
	assert.Empty(t, client.inputs)
}
