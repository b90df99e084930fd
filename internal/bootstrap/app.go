package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"msgvault-backend/internal/access"
	"msgvault-backend/internal/ingest"
	"msgvault-backend/internal/messages"
	"msgvault-backend/internal/queue"
	"msgvault-backend/internal/retrieval"
	"msgvault-backend/internal/services/health"
	"msgvault-backend/internal/shared/auth"
	"msgvault-backend/internal/shared/config"
	"msgvault-backend/internal/shared/server"
	"msgvault-backend/internal/shared/storage/db"
	"msgvault-backend/internal/shared/storage/object"
	"msgvault-backend/internal/shared/storage/object/cache"
	localstore "msgvault-backend/internal/shared/storage/object/local"
	s3store "msgvault-backend/internal/shared/storage/object/s3"
	"msgvault-backend/internal/shared/telemetry"
)

const redisKeyPrefix = "msgvault:signed:"

// App holds shared dependencies.
type App struct {
	Config       config.Config
	Router       *gin.Engine
	DB           *sql.DB
	Mongo        *mongo.Client
	Redis        *redis.Client
	Store        object.ObjectStore
	LocalStore   *localstore.Store
	Records      messages.Repo
	Associations access.Repo
	Registry     *access.Registry
	Processor    *ingest.Processor
	Gateway      *retrieval.Gateway
	Health       *health.Service
	Signer       *auth.Signer
}

// Build prepares every dependency and wires the router.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = config.ObjectStoreLocal
	}
	if strings.TrimSpace(cfg.MetadataStore) == "" {
		cfg.MetadataStore = config.MetadataMemory
	}

	app := &App{Config: cfg, Health: health.NewService()}

	signer, err := auth.NewSigner(cfg.JWTSecret, cfg.Env)
	if err != nil {
		return nil, err
	}
	app.Signer = signer

	if err := app.buildMetadata(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err := app.buildStore(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}

	app.Registry = access.NewRegistry(app.Associations, access.Options{
		AdminUsernames:     cfg.AdminUsernames,
		UnassociatedPolicy: access.UnassociatedPolicy(cfg.UnassociatedPolicy),
	})
	app.Processor = ingest.NewProcessor(app.Store, app.Records, ingest.Config{
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		URLTTL:          cfg.SignedURLTTL,
	})
	app.Gateway = retrieval.NewGateway(app.Registry, app.Records, app.Store, retrieval.Config{
		URLTTL: cfg.SignedURLTTL,
	})

	// A nil *localstore.Store must not reach the handler as a non-nil interface.
	var links retrieval.LinkServer
	if app.LocalStore != nil {
		links = app.LocalStore
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:   cfg,
		Verifier: signer,
		Health:   app.Health,
		Handlers: []server.RouteRegistrar{
			ingest.NewHandler(app.Processor),
			access.NewHandler(app.Registry),
			retrieval.NewHandler(app.Gateway, links),
		},
	})

	telemetry.Info("bootstrap.ready", map[string]any{
		"env":            cfg.Env,
		"object_store":   cfg.ObjectStoreType,
		"metadata_store": cfg.MetadataStore,
		"health_checks":  app.Health.Names(),
	})
	return app, nil
}

func (a *App) buildMetadata(ctx context.Context) error {
	cfg := a.Config
	switch cfg.MetadataStore {
	case config.MetadataMemory:
		a.Records = messages.NewMemoryRepo()
		a.Associations = access.NewMemoryRepo()
		return nil

	case config.MetadataPostgres:
		sqlDB, err := connectDB(ctx, cfg)
		if err != nil {
			return err
		}
		a.DB = sqlDB
		if config.IsDevLike(cfg.Env) {
			if err := db.RunMigrations(ctx, sqlDB); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
		}
		a.Records = &messages.PGRepo{DB: sqlDB}
		a.Associations = &access.PGRepo{DB: sqlDB}
		a.Health.Register("postgres", db.HealthCheck(sqlDB))
		a.Health.Describe("postgres", func() map[string]any { return db.PoolStats(sqlDB).Fields() })
		return nil

	case config.MetadataDynamoDB:
		client, err := dynamoClient(ctx, cfg)
		if err != nil {
			return err
		}
		a.Records = &messages.DynamoRepo{Client: client, Table: cfg.DynamoMessagesTable}
		a.Associations = &access.DynamoRepo{Client: client, Table: cfg.DynamoAssociationsTable}
		a.Health.Register("dynamodb", func(ctx context.Context) error {
			_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(cfg.DynamoMessagesTable)})
			return err
		})
		return nil

	case config.MetadataMongo:
		if strings.TrimSpace(cfg.MongoURI) == "" {
			return errors.New("MONGO_URI is required for METADATA_STORE=mongo")
		}
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		a.Mongo = client
		database := client.Database(cfg.MongoDatabase)
		records := messages.NewMongoRepo(database)
		if err := records.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("ensure mongo indexes: %w", err)
		}
		a.Records = records
		a.Associations = access.NewMongoRepo(database)
		a.Health.Register("mongo", func(ctx context.Context) error {
			return client.Ping(ctx, nil)
		})
		return nil

	default:
		return fmt.Errorf("unknown METADATA_STORE %q", cfg.MetadataStore)
	}
}

func connectDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, errors.New("DATABASE_URL is required for METADATA_STORE=postgres")
	}
	if db.IsLambdaRuntime() {
		return db.GetSingleton(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultLambdaOptions()))
	}
	return db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
}

func dynamoClient(ctx context.Context, cfg config.Config) (*dynamodb.Client, error) {
	if cfg.DynamoMessagesTable == "" || cfg.DynamoAssociationsTable == "" {
		return nil, errors.New("DynamoDB table names are required for METADATA_STORE=dynamodb")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.AWSRegion != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	endpoint := strings.TrimSpace(cfg.DynamoEndpoint)
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func (a *App) buildStore(ctx context.Context) error {
	cfg := a.Config
	var store object.ObjectStore
	switch cfg.ObjectStoreType {
	case config.ObjectStoreLocal:
		secret := cfg.JWTSecret
		if secret == "" {
			secret = "dev-secret"
		}
		ls, err := localstore.New(cfg.LocalStoreDir, cfg.PublicBaseURL, secret)
		if err != nil {
			return err
		}
		a.LocalStore = ls
		store = ls
	case config.ObjectStoreS3:
		s3, err := s3store.New(ctx, s3store.Options{
			Region:   cfg.AWSRegion,
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			KMSKeyID: cfg.SSEKMSKeyID,
			Endpoint: cfg.S3Endpoint,
		})
		if err != nil {
			return err
		}
		a.Health.Register("s3", s3.Ping)
		store = s3
	default:
		return fmt.Errorf("unknown OBJECT_STORE %q", cfg.ObjectStoreType)
	}

	if strings.TrimSpace(cfg.RedisAddr) != "" {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		rc := cache.NewRedisCache(a.Redis, redisKeyPrefix)
		a.Health.Register("redis", rc.Ping)
		store = cache.New(store, rc)
	}
	a.Store = store
	return nil
}

// BuildQueue returns the configured queue client, or nil when no backend is set.
func BuildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	switch cfg.QueueBackend {
	case "":
		return nil, nil
	case config.QueueSQS:
		if strings.TrimSpace(cfg.SQSQueueURL) == "" {
			return nil, errors.New("SQS_QUEUE_URL is required for QUEUE_BACKEND=sqs")
		}
		return queue.NewSQSClient(ctx, cfg.AWSRegion, cfg.SQSQueueURL)
	case config.QueueNATS:
		return queue.ConnectNATS(cfg.NATSURL, cfg.NATSStream, cfg.NATSSubject)
	default:
		return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}
}

// Close releases external connections.
func (a *App) Close(ctx context.Context) {
	if a.DB != nil && !db.IsLambdaRuntime() {
		_ = a.DB.Close()
	}
	if a.Mongo != nil {
		_ = a.Mongo.Disconnect(ctx)
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}
