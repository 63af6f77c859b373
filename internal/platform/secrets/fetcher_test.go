package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const carrierTokenResource = "projects/shop/secrets/carrier_token/versions/latest"

func TestResolveCachesUntilTTL(t *testing.T) {
	ctx := context.Background()
	client := newFakeAccessClient()
	client.values[carrierTokenResource] = "tok_1\n"

	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	fetcher, err := NewFetcher(ctx,
		withClient(client),
		withClock(func() time.Time { return now }),
		WithProject("shop"),
		WithCacheTTL(time.Minute),
		WithLocalFile(""),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 3; i++ {
		got, err := fetcher.ResolveSecret(ctx, "sm://carrier_token")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if got != "tok_1" {
			t.Fatalf("expected trimmed token, got %q", got)
		}
	}
	if calls := client.calls(carrierTokenResource); calls != 1 {
		t.Fatalf("expected one remote call, got %d", calls)
	}

	client.set(carrierTokenResource, "tok_2")
	now = now.Add(2 * time.Minute)
	got, err := fetcher.Resolve(ctx, "secret://carrier_token")
	if err != nil {
		t.Fatalf("resolve after ttl: %v", err)
	}
	if got != "tok_2" {
		t.Fatalf("expected rotated token, got %q", got)
	}
}

func TestResolveHonoursVersionAndProjectParams(t *testing.T) {
	ctx := context.Background()
	client := newFakeAccessClient()
	resource := "projects/other/secrets/carrier_token/versions/3"
	client.values[resource] = "pinned"

	fetcher, err := NewFetcher(ctx, withClient(client), WithProject("shop"), WithLocalFile(""))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	got, err := fetcher.Resolve(ctx, "secret://carrier_token?version=3&project=other")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "pinned" || client.calls(resource) != 1 {
		t.Fatalf("expected pinned version from other project, got %q", got)
	}
}

func TestResolveFallsBackToLocalFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte("# local dev\nsm://carrier_token=local-token\n"), 0o600); err != nil {
		t.Fatalf("write local file: %v", err)
	}

	client := newFakeAccessClient()
	client.errs[carrierTokenResource] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx, withClient(client), WithProject("shop"), WithLocalFile(path))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	got, err := fetcher.Resolve(ctx, "secret://carrier_token")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "local-token" {
		t.Fatalf("expected local token, got %q", got)
	}
}

func TestResolveNotFoundDoesNotUseLocalFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte("secret://carrier_token=local-token\n"), 0o600); err != nil {
		t.Fatalf("write local file: %v", err)
	}

	fetcher, err := NewFetcher(ctx, withClient(newFakeAccessClient()), WithProject("shop"), WithLocalFile(path))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	if _, err := fetcher.Resolve(ctx, "secret://carrier_token"); err == nil {
		t.Fatalf("expected not found to surface")
	}
}

func TestNewFetcherWithoutCredentialsUsesLocalFile(t *testing.T) {
	original := newSecretManagerClient
	newSecretManagerClient = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { newSecretManagerClient = original })

	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte("secret://redis_password=hunter2\n"), 0o600); err != nil {
		t.Fatalf("write local file: %v", err)
	}

	fetcher, err := NewFetcher(context.Background(), WithProject("shop"), WithLocalFile(path))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	got, err := fetcher.Resolve(context.Background(), "secret://redis_password")
	if err != nil || got != "hunter2" {
		t.Fatalf("expected local value, got %q err %v", got, err)
	}
}

func TestParseRefRejectsOtherSchemes(t *testing.T) {
	for _, raw := range []string{"", "https://example.com/x", "secret://"} {
		if _, err := parseRef(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

type fakeAccessClient struct {
	mu      sync.Mutex
	values  map[string]string
	errs    map[string]error
	counter map[string]int
}

func newFakeAccessClient() *fakeAccessClient {
	return &fakeAccessClient{
		values:  map[string]string{},
		errs:    map[string]error{},
		counter: map[string]int{},
	}
}

func (f *fakeAccessClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := req.GetName()
	f.counter[name]++
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	value, ok := f.values[name]
	if !ok {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (f *fakeAccessClient) Close() error { return nil }

func (f *fakeAccessClient) set(name, value string) {
	f.mu.Lock()
	f.values[name] = value
	f.mu.Unlock()
}

func (f *fakeAccessClient) calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter[name]
}
