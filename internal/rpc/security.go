package rpc

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"arenareplay/engine/internal/config"
	"arenareplay/engine/internal/logging"
)

// SharedSecretMetadataKey carries the shared secret on every call.
const SharedSecretMetadataKey = "x-replay-shared-secret"

// SecurityOptions translates the configured auth mode into server options.
func SecurityOptions(cfg config.GRPCSecurityConfig, logger *logging.Logger) ([]grpc.ServerOption, error) {
	if logger == nil {
		logger = logging.L()
	}
	switch cfg.AuthMode {
	case config.GRPCAuthModeNone, "":
		return nil, nil
	case config.GRPCAuthModeMTLS:
		creds, err := loadMTLSCredentials(cfg.ServerCertPath, cfg.ServerKeyPath, cfg.ClientCAPath)
		if err != nil {
			return nil, err
		}
		logger.Info("timeline service mTLS enabled")
		return []grpc.ServerOption{grpc.Creds(creds)}, nil
	case config.GRPCAuthModeSharedSecret:
		logger.Info("timeline service shared-secret authentication enabled")
		return []grpc.ServerOption{grpc.ChainUnaryInterceptor(newSharedSecretInterceptor(cfg.SharedSecret))}, nil
	default:
		return nil, fmt.Errorf("unsupported grpc auth mode %q", cfg.AuthMode)
	}
}

func newSharedSecretInterceptor(secret string) grpc.UnaryServerInterceptor {
	normalized := strings.TrimSpace(secret)
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if normalized == "" {
			return nil, status.Error(codes.Unauthenticated, "shared secret not configured")
		}
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		candidate := extractSharedSecret(md)
		if candidate == "" {
			return nil, status.Error(codes.Unauthenticated, "missing shared secret")
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(normalized)) != 1 {
			return nil, status.Error(codes.Unauthenticated, "invalid shared secret")
		}
		return handler(ctx, req)
	}
}

func extractSharedSecret(md metadata.MD) string {
	for _, value := range md.Get(SharedSecretMetadataKey) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	for _, value := range md.Get("authorization") {
		if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
			if token := strings.TrimSpace(value[7:]); token != "" {
				return token
			}
		}
	}
	return ""
}

// sharedSecretCredentials attaches the secret to outgoing calls.
type sharedSecretCredentials struct {
	secret string
}

// SharedSecretCredentials returns per-call credentials for shared_secret mode.
func SharedSecretCredentials(secret string) credentials.PerRPCCredentials {
	return sharedSecretCredentials{secret: strings.TrimSpace(secret)}
}

func (c sharedSecretCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{SharedSecretMetadataKey: c.secret}, nil
}

func (sharedSecretCredentials) RequireTransportSecurity() bool { return false }

func loadMTLSCredentials(certPath, keyPath, caPath string) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load server keypair: %w", err)
	}
	caBytes, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read client ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("failed to parse client ca bundle")
	}
	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS12,
	}), nil
}
