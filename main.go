package main

import (
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"kanban-api/alert"
	"kanban-api/api"
	"kanban-api/notification"
	"kanban-api/storage"
	"kanban-api/toast"
)

const googleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.New()

	kv, rc := buildStorage(logger)

	var deduper api.Deduper
	if rc != nil {
		ttl := 24 * time.Hour
		if v := os.Getenv("DEDUPER_TTL"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				log.Fatalf("invalid DEDUPER_TTL: %v", err)
			}
			ttl = d
		}
		deduper = api.NewRedisDeduper(rc, ttl)
	}

	testMode := os.Getenv("GOOGLE_TEST_MODE") == "1"
	var auth *api.Auth
	if testMode {
		auth = api.NewAuth(nil, "")
	} else {
		clientID := os.Getenv("GOOGLE_CLIENT_ID")
		if clientID == "" {
			log.Fatal("missing GOOGLE_CLIENT_ID")
		}
		jwks, err := keyfunc.Get(googleJWKSURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, clientID)
	}

	var platform alert.Platform
	if connStr := os.Getenv("ALERT_QUEUE_CONNECTION_STRING"); connStr != "" {
		queueName := os.Getenv("ALERT_QUEUE")
		if queueName == "" {
			log.Fatal("ALERT_QUEUE must be set when ALERT_QUEUE_CONNECTION_STRING is")
		}
		q, err := alert.NewQueue(connStr, queueName)
		if err != nil {
			log.Fatalf("alert queue: %v", err)
		}
		platform = q
	}
	gateway := alert.NewGateway(platform, logger)
	defer gateway.Close()

	registry := notification.NewRegistry(kv, notification.DefaultConfig(), logger, gateway)
	defer registry.Close()

	sessions := api.NewSessionManager(kv, registry, toast.DefaultConfig(), logger)
	defer sessions.Close()

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(api.GzipRequestMiddleware())

	api.Register(e, sessions, auth, gateway, deduper, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

// buildStorage selects the key-value adapter: Redis when
// REDIS_CONNECTION_STRING is set, Azure Tables otherwise. The Redis client is
// returned separately so the idempotency deduper can share it.
func buildStorage(logger *log.Logger) (storage.KV, *redis.Client) {
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		redisOpts, err := redis.ParseURL(redisConn)
		if err != nil {
			parts := strings.Split(redisConn, ",")
			redisOpts = &redis.Options{Addr: parts[0]}
			for _, p := range parts[1:] {
				kv := strings.SplitN(p, "=", 2)
				if len(kv) != 2 {
					continue
				}
				switch strings.ToLower(kv[0]) {
				case "password":
					redisOpts.Password = kv[1]
				case "ssl":
					if strings.ToLower(kv[1]) == "true" {
						redisOpts.TLSConfig = &tls.Config{}
					}
				}
			}
		}
		rc := redis.NewClient(redisOpts)
		logger.Info("using redis storage")
		return storage.NewRedis(rc), rc
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tableName := os.Getenv("KANBAN_TABLE")
	if connStr == "" || tableName == "" {
		log.Fatal("missing storage config: set REDIS_CONNECTION_STRING or STORAGE_CONNECTION_STRING and KANBAN_TABLE")
	}
	tables, err := storage.NewTables(connStr, tableName)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	logger.Info("using table storage")
	return tables, nil
}
