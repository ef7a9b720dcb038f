package main

import (
	"context"
	"flag"
	"fmt"
	"github.com/kelseyhightower/envconfig"
	"net/http"
	"os"
	"text2phenotype.com/seqtag/api"
	"text2phenotype.com/seqtag/batch"
	"text2phenotype.com/seqtag/embedcache"
	"text2phenotype.com/seqtag/loader"
	"text2phenotype.com/seqtag/logger"
	"text2phenotype.com/seqtag/pipeline"
	"text2phenotype.com/seqtag/redis"
	"text2phenotype.com/seqtag/registry"
	"text2phenotype.com/seqtag/s3client"
	"text2phenotype.com/seqtag/store"
	"text2phenotype.com/seqtag/types"
	"text2phenotype.com/seqtag/worker"
	"time"
)

type Config struct {
	CatalogPath   string `envconfig:"SEQTAG_CATALOG_PATH" required:"true"`
	RestAPIActive bool   `envconfig:"SEQTAG_REST_API_ACTIVE" default:"true"`
	RestAPIPort   string `envconfig:"SEQTAG_REST_API_PORT" default:"10000"`
	WorkerActive  bool   `envconfig:"SEQTAG_WORKER_ACTIVE" default:"false"`
	EmbedCache    bool   `envconfig:"SEQTAG_EMBED_CACHE" default:"false"`
	ModelCacheDir string `envconfig:"SEQTAG_MODEL_CACHE_DIR" default:"/tmp/seqtag-models"`
	OrtLibrary    string `envconfig:"SEQTAG_ORT_LIBRARY" default:""`
}

func main() {
	logger.SetupLogging()
	mainLogger := logger.NewLogger("Main")
	fatalErrLogger := mainLogger.Fatal().Caller()
	preload := flag.Bool("preload", false, "load every catalog model into the cache dir and exit")
	flag.Parse()
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		fatalErrLogger.Err(err).Msg("Failed to read environment")
		os.Exit(1)
	}
	if !config.RestAPIActive && !config.WorkerActive && !*preload {
		fatalErrLogger.Msg("Neither REST API nor worker is active")
		os.Exit(1)
	}

	catalog, err := types.LoadCatalog(config.CatalogPath)
	if err != nil {
		fatalErrLogger.Err(err).Str("path", config.CatalogPath).Msg("Failed to load model catalog")
		os.Exit(1)
	}
	mainLogger.Info().Strs("models", catalog.Names()).Msg("Loaded model catalog")

	var s3Client *s3client.Client
	var downloader store.Downloader
	if usesS3(catalog) || config.WorkerActive {
		s3Client, err = s3client.New()
		if err != nil {
			fatalErrLogger.Err(err).Msg("Could not create S3 client")
			os.Exit(1)
		}
		defer s3Client.Close()
		downloader = s3Client
	}

	var redisClient *redis.Client
	var locker store.Locker
	var cache embedcache.Store
	if config.EmbedCache || config.WorkerActive {
		redisClient, err = redis.NewClient()
		if err != nil {
			fatalErrLogger.Err(err).Msg("Could not create Redis client")
			os.Exit(1)
		}
		defer redisClient.Close()
		locker = redisClient
		if config.EmbedCache {
			cache = redisClient
		}
	}

	artifacts := store.New(config.ModelCacheDir, downloader, locker)
	models := registry.New(catalog, loader.New(artifacts, config.OrtLibrary, cache))
	defer models.Close()

	if *preload {
		if err = models.LoadAll(context.Background()); err != nil {
			fatalErrLogger.Err(err).Msg("Failed to preload models")
			os.Exit(1)
		}
		mainLogger.Info().Interface("models", models.Statuses()).Msg("Models preloaded. Exit...")
		return
	}

	go func() {
		started := time.Now()
		if err := models.LoadAll(context.Background()); err != nil {
			mainLogger.Err(err).Msg("Embedder is unavailable, every request will fail")
			return
		}
		mainLogger.Info().
			Dur("took", time.Since(started)).
			Interface("models", models.Statuses()).
			Msg("Models loaded")
	}()

	ppln := pipeline.New(models, batch.NewBuilder(catalog.Embedder.Dimension))

	if config.RestAPIActive {
		go func() {
			mainLogger.Info().Msg("Starting API service")
			apiRequest := &api.Request{
				Pipeline: ppln,
				Models:   models,
			}
			mux := http.NewServeMux()
			apiRequest.Routes(mux)
			host := fmt.Sprintf(":%s", config.RestAPIPort)
			mainLogger.Info().Msgf("REST API on %s", host)
			err := http.ListenAndServe(host, mux)
			fatalErrLogger.Err(err).Msg("REST API stopped with error")
			os.Exit(1)
		}()
	}

	if !config.WorkerActive {
		select {}
	}

	mainLogger.Info().Msg("Start tagging worker")
	for {
		rmqWorker, err := worker.New(ppln, s3Client, redisClient)
		if err != nil {
			fatalErrLogger.Err(err).Msg("Could not initialize RMQ worker")
			os.Exit(1)
		}
		err = rmqWorker.StartWorker()
		if err != nil {
			mainLogger.Err(err).Msg("Worker returned with error. Launching new in 5 seconds")
			time.Sleep(5 * time.Second)
		}
	}
}

func usesS3(catalog types.Catalog) bool {
	if store.IsS3(catalog.Embedder.ModelPath) || store.IsS3(catalog.Embedder.TokenizerPath) {
		return true
	}
	for _, location := range catalog.Taggers {
		if store.IsS3(location) {
			return true
		}
	}
	return false
}
