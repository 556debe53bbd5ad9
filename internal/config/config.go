package config

import (
	"log"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Postgres struct {
	Host     string
	Port     string
	DB       string
	User     string
	Password string
	SSLMode  string
}

type SQS struct {
	QueueURL          string
	Region            string
	WaitSeconds       int
	BatchSize         int
	VisibilityTimeout int
}

type Worker struct {
	DrainTimeout time.Duration
}

type Config struct {
	HTTPAddr string
	CacheCap int
	LogDev   bool

	Pg     Postgres
	Queue  SQS
	Worker Worker
}

// Load keeps the original API and fatals on error for simplicity in main().
func Load() Config {
	cfg, err := load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	return cfg
}

func load() (Config, error) {
	_ = godotenv.Load("env/.env")

	cfg := Config{
		HTTPAddr: envDefault("HTTP_ADDR", ":8080"),
		CacheCap: envInt("CACHE_CAP", 1000),
		LogDev:   envBool("LOG_DEV", false),

		Pg: Postgres{
			Host:     strings.TrimSpace(os.Getenv("PG_HOST")),
			Port:     strings.TrimSpace(envDefault("PG_PORT", "5432")),
			DB:       strings.TrimSpace(os.Getenv("PG_DB")),
			User:     strings.TrimSpace(os.Getenv("PG_USER")),
			Password: strings.TrimSpace(os.Getenv("PG_PASSWORD")),
			SSLMode:  strings.TrimSpace(envDefault("PG_SSLMODE", "disable")),
		},

		Queue: SQS{
			QueueURL:          strings.TrimSpace(os.Getenv("SQS_QUEUE_URL")),
			Region:            strings.TrimSpace(envDefault("AWS_REGION", "us-east-1")),
			WaitSeconds:       envInt("SQS_WAIT_SECONDS", 20),
			BatchSize:         envInt("SQS_BATCH_SIZE", 10),
			VisibilityTimeout: envInt("SQS_VISIBILITY_TIMEOUT", 300),
		},

		Worker: Worker{
			DrainTimeout: envDuration("WORKER_DRAIN_TIMEOUT", 30*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	req := map[string]string{
		"PG_HOST":       c.Pg.Host,
		"PG_DB":         c.Pg.DB,
		"PG_USER":       c.Pg.User,
		"PG_PASSWORD":   c.Pg.Password,
		"SQS_QUEUE_URL": c.Queue.QueueURL,
	}
	for k, v := range req {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &missingEnvError{Keys: missing}
	}

	// SQS API limits: 1..10 messages per receive, 0..20s wait.
	if c.Queue.BatchSize < 1 || c.Queue.BatchSize > 10 {
		log.Printf("SQS_BATCH_SIZE is %d, adjusting to 10", c.Queue.BatchSize)
	}
	if c.Queue.WaitSeconds < 0 || c.Queue.WaitSeconds > 20 {
		log.Printf("SQS_WAIT_SECONDS is %d, adjusting to 20", c.Queue.WaitSeconds)
	}
	if c.CacheCap <= 0 {
		log.Printf("CACHE_CAP is %d, adjusting to 1", c.CacheCap)
	}
	return nil
}

type missingEnvError struct{ Keys []string }

func (e *missingEnvError) Error() string {
	return "missing required envs: " + strings.Join(e.Keys, ", ")
}

// DSN builds a proper Postgres URL, safely escaping user/pass and query.
func (c Config) DSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Pg.User, c.Pg.Password),
		Host:   net.JoinHostPort(c.Pg.Host, c.Pg.Port),
		Path:   "/" + c.Pg.DB,
	}
	q := url.Values{}
	if c.Pg.SSLMode != "" {
		q.Set("sslmode", c.Pg.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func envDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("invalid %s=%q, using default %d: %v", k, v, def, err)
		return def
	}
	return n
}

func envBool(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("invalid %s=%q, using default %t: %v", k, v, def, err)
		return def
	}
	return b
}

// envDuration supports either plain integer seconds ("30") or Go duration
// strings ("1.5s", "250ms", "2m").
func envDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if strings.IndexFunc(v, func(r rune) bool { return r < '0' || r > '9' }) != -1 {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Printf("invalid %s=%q, using default %v: %v", k, v, def, err)
			return def
		}
		return d
	}
	sec, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("invalid %s=%q, using default %v: %v", k, v, def, err)
		return def
	}
	return time.Duration(sec) * time.Second
}
