// Package main 提供命令行分片上传工具，用于把本地视频推送到 ingest 服务。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	_ "go.uber.org/automaxprocs"

	"github.com/bionicotaku/lingo-services-ingest/internal/client"
)

func main() {
	endpoint := flag.String("endpoint", "http://localhost:8000", "ingest service base url")
	file := flag.String("file", "", "local video file to upload")
	chunkSize := flag.Int64("chunk-size", client.DefaultChunkSize, "chunk size in bytes")
	concurrency := flag.Int("concurrency", client.DefaultConcurrency, "parallel chunk uploads")
	attempts := flag.Int("attempts", client.DefaultMaxAttempts, "attempts per chunk")
	uploadID := flag.String("upload-id", "", "reuse an upload id to resume (default: random)")
	videoID := flag.String("video-id", "", "video id to start transcoding after reassembly")
	apiKey := flag.String("apikey", os.Getenv("INGEST_API_KEY"), "value for the apikey header")
	flag.Parse()

	logger := log.With(log.NewStdLogger(os.Stderr), "ts", log.DefaultTimestamp)
	helper := log.NewHelper(logger)

	if *file == "" {
		helper.Error("-file is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	headers := map[string]string{}
	if *apiKey != "" {
		headers["apikey"] = *apiKey
		headers["authorization"] = "Bearer " + *apiKey
	}
	uploader, cleanup, err := client.NewUploader(ctx, client.Config{
		Endpoint:    *endpoint,
		ChunkSize:   *chunkSize,
		Concurrency: *concurrency,
		MaxAttempts: *attempts,
		Headers:     headers,
	}, logger)
	if err != nil {
		helper.Errorf("init uploader: %v", err)
		os.Exit(1)
	}
	defer cleanup()

	progress := make(chan client.Progress, *concurrency)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for p := range progress {
			fmt.Fprintf(os.Stderr, "\r%d/%d chunks  %.1f%%", p.Completed, p.TotalChunks, float64(p.BytesSent)*100/float64(p.TotalBytes))
		}
		fmt.Fprintln(os.Stderr)
	}()

	start := time.Now()
	res, err := uploader.UploadFile(ctx, *file, client.Options{UploadID: *uploadID, VideoID: *videoID, Progress: progress})
	close(progress)
	wg.Wait()
	if err != nil {
		helper.Errorf("upload failed: %v", err)
		os.Exit(1)
	}

	helper.Infof("uploaded %s (%d bytes) in %s", res.Path, res.Size, time.Since(start).Round(time.Millisecond))
	fmt.Println(res.PublicURL)
	if res.JobID != "" {
		helper.Infof("transcode job %s started for video %s", res.JobID, res.VideoID)
	}
}
