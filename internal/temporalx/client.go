package temporalx

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	temporalsdkclient "go.temporal.io/sdk/client"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/wandergen/wandergen-backend/internal/logger"
)

// NewClient dials Temporal with bounded retries. Returns (nil, nil) when
// TEMPORAL_ADDRESS is unset so deployments without Temporal still boot.
func NewClient(log *logger.Logger) (temporalsdkclient.Client, error) {
	cfg := LoadConfig()
	if cfg.Address == "" {
		log.Warn("TEMPORAL_ADDRESS not set; job execution disabled")
		return nil, nil
	}

	opts := temporalsdkclient.Options{
		HostPort:  cfg.Address,
		Namespace: cfg.Namespace,
		Logger:    log,
	}
	if cfg.ClientCertPath != "" || cfg.ClientKeyPath != "" || cfg.ClientCAPath != "" {
		tlsCfg, err := loadTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.ConnectionOptions.TLS = tlsCfg
	}

	dialTimeout := envSeconds("TEMPORAL_DIAL_TIMEOUT_SECONDS", 5)
	maxWait := envSeconds("TEMPORAL_DIAL_MAX_WAIT_SECONDS", 60)
	backoff := 250 * time.Millisecond
	deadline := time.Now().Add(maxWait)

	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		c, err := temporalsdkclient.DialContext(ctx, opts)
		cancel()
		if err == nil {
			if attempt > 1 {
				log.Info("connected to temporal", "address", cfg.Address, "attempts", attempt)
			}
			if err := ensureNamespace(c, cfg, log); err != nil {
				c.Close()
				return nil, err
			}
			return c, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("temporal dial failed (address=%s namespace=%s): %w", cfg.Address, cfg.Namespace, err)
		}
		log.Warn("temporal not reachable, retrying", "address", cfg.Address, "attempt", attempt, "error", err)
		time.Sleep(backoff)
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}

// ensureNamespace registers the namespace on local/self-hosted Temporal when
// TEMPORAL_AUTO_REGISTER_NAMESPACE is enabled. Cloud namespaces are
// pre-provisioned and this stays off.
func ensureNamespace(c temporalsdkclient.Client, cfg Config, log *logger.Logger) error {
	if os.Getenv("TEMPORAL_AUTO_REGISTER_NAMESPACE") != "true" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	nsOpts := temporalsdkclient.Options{HostPort: cfg.Address, Logger: log}
	if cfg.ClientCertPath != "" || cfg.ClientKeyPath != "" || cfg.ClientCAPath != "" {
		tlsCfg, err := loadTLSConfig(cfg)
		if err != nil {
			return err
		}
		nsOpts.ConnectionOptions.TLS = tlsCfg
	}
	nsClient, err := temporalsdkclient.NewNamespaceClient(nsOpts)
	if err != nil {
		return fmt.Errorf("temporal namespace client: %w", err)
	}
	defer nsClient.Close()

	if _, err := nsClient.Describe(ctx, cfg.Namespace); err == nil {
		return nil
	} else {
		var nfe *serviceerror.NamespaceNotFound
		if !errors.As(err, &nfe) {
			return fmt.Errorf("temporal describe namespace: %w", err)
		}
	}

	regErr := nsClient.Register(ctx, &workflowservice.RegisterNamespaceRequest{
		Namespace:                        cfg.Namespace,
		WorkflowExecutionRetentionPeriod: durationpb.New(7 * 24 * time.Hour),
	})
	if regErr != nil {
		var already *serviceerror.NamespaceAlreadyExists
		if errors.As(regErr, &already) {
			return nil
		}
		return fmt.Errorf("temporal register namespace: %w", regErr)
	}
	log.Info("registered temporal namespace", "namespace", cfg.Namespace)
	return nil
}

func loadTLSConfig(cfg Config) (*tls.Config, error) {
	if cfg.ClientCertPath == "" || cfg.ClientKeyPath == "" {
		return nil, fmt.Errorf("temporal tls: both TEMPORAL_CLIENT_CERT_PATH and TEMPORAL_CLIENT_KEY_PATH are required")
	}
	cert, err := tls.LoadX509KeyPair(cfg.ClientCertPath, cfg.ClientKeyPath)
	if err != nil {
		return nil, fmt.Errorf("temporal tls: load client cert/key: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if cfg.ClientCAPath != "" {
		pem, err := os.ReadFile(cfg.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("temporal tls: read CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("temporal tls: invalid CA pem")
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}

func envSeconds(key string, def int) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(def) * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return time.Duration(def) * time.Second
	}
	return time.Duration(n) * time.Second
}
