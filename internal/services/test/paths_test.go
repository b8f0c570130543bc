package services_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/objectstore"
	"github.com/bionicotaku/lingo-services-ingest/internal/services"
)

func TestTotalMarkerPath(t *testing.T) {
	assert.Equal(t, "temp/u1/total-12", services.TotalMarkerPath("u1", 12))

	total, ok := services.ParseTotalMarker("u1", "temp/u1/total-12")
	require.True(t, ok)
	assert.Equal(t, 12, total)

	for _, p := range []string{"temp/u1/total-", "temp/u1/total-0", "temp/u1/total-x1", "temp/u10/total-3", "temp/u1/0003"} {
		_, ok := services.ParseTotalMarker("u1", p)
		assert.False(t, ok, p)
	}
	_, ok = services.ParseChunkIndex("u1", "temp/u1/total-12")
	assert.False(t, ok, "markers never parse as chunk indices")
}

func TestChunkReceiver_FileNameWithDoubleDots(t *testing.T) {
	store := objectstore.NewMemoryStore("")
	rcv := newReceiver(store)
	ctx := context.Background()

	_, err := rcv.Receive(ctx, services.ChunkInput{UploadID: "u", FileName: "clip..v2.mp4", Index: 0, Total: 1, Size: 1, Data: strings.NewReader("x")})
	require.NoError(t, err)

	for _, name := range []string{".", "..", "../clip.mp4", `..\clip.mp4`} {
		_, err := rcv.Receive(ctx, services.ChunkInput{UploadID: "u", FileName: name, Index: 0, Total: 1, Size: 1, Data: strings.NewReader("x")})
		requireKind(t, err, services.KindInvalidRequest)
	}
	assert.Equal(t, "original/clip..v2.mp4", services.FinalPath("clip..v2.mp4"))
}
