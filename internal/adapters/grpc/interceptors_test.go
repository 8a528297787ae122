package grpc

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/eleven-am/crosslink/internal/domain"
)

func TestUnaryLoggingInterceptor(t *testing.T) {
	interceptor := UnaryLoggingInterceptor(slog.Default())

	tests := []struct {
		name        string
		handler     grpc.UnaryHandler
		expectError bool
	}{
		{
			name: "successful request",
			handler: func(ctx context.Context, req interface{}) (interface{}, error) {
				return "response", nil
			},
		},
		{
			name: "failed request with status error",
			handler: func(ctx context.Context, req interface{}) (interface{}, error) {
				return nil, status.Error(codes.Internal, "internal error")
			},
			expectError: true,
		},
		{
			name: "failed request with regular error",
			handler: func(ctx context.Context, req interface{}) (interface{}, error) {
				return nil, errors.New("regular error")
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := &grpc.UnaryServerInfo{FullMethod: handshakeMethod}

			resp, err := interceptor(context.Background(), "request", info, tt.handler)

			if tt.expectError && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if !tt.expectError && resp == nil {
				t.Error("Expected response but got nil")
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	if codeOf(nil) != codes.OK {
		t.Error("Expected OK for nil error")
	}
	if codeOf(status.Error(codes.Unauthenticated, "no")) != codes.Unauthenticated {
		t.Error("Expected status code to be preserved")
	}
	if codeOf(errors.New("plain")) != codes.Unknown {
		t.Error("Expected Unknown for plain errors")
	}
}

func TestUnaryAuthInterceptor(t *testing.T) {
	keys := []domain.Secret{"first-key", "second-key"}
	info := &grpc.UnaryServerInfo{FullMethod: handshakeMethod}
	ok := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	}

	tests := []struct {
		name     string
		keys     []domain.Secret
		header   []string
		wantCode codes.Code
	}{
		{name: "no keys configured accepts anonymous", keys: nil, wantCode: codes.OK},
		{name: "missing header", keys: keys, wantCode: codes.Unauthenticated},
		{name: "wrong scheme", keys: keys, header: []string{"Bearer first-key"}, wantCode: codes.Unauthenticated},
		{name: "wrong key", keys: keys, header: []string{"ApiKey nope"}, wantCode: codes.Unauthenticated},
		{name: "first key", keys: keys, header: []string{"ApiKey first-key"}, wantCode: codes.OK},
		{name: "second key", keys: keys, header: []string{"ApiKey second-key"}, wantCode: codes.OK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if len(tt.header) > 0 {
				ctx = metadata.NewIncomingContext(ctx, metadata.Pairs(authorizationHeader, tt.header[0]))
			}

			_, err := UnaryAuthInterceptor(tt.keys)(ctx, nil, info, ok)
			if got := codeOf(err); got != tt.wantCode {
				t.Errorf("Expected %v, got %v", tt.wantCode, got)
			}
		})
	}
}

func TestAPIKeyCredentials(t *testing.T) {
	md, err := apiKeyCredentials{key: "s3cret"}.GetRequestMetadata(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if md[authorizationHeader] != "ApiKey s3cret" {
		t.Errorf("Unexpected authorization header %q", md[authorizationHeader])
	}

	md, err = apiKeyCredentials{}.GetRequestMetadata(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(md) != 0 {
		t.Errorf("Expected no metadata for an empty credential, got %v", md)
	}
}
