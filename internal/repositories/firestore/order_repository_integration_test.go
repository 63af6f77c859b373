//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/weave/storefront/internal/domain"
	pconfig "github.com/weave/storefront/internal/platform/config"
	pfirestore "github.com/weave/storefront/internal/platform/firestore"
	"github.com/weave/storefront/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestOrderRepositoriesIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })
	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "storefront-test", EmulatorHost: endpoint})
	registry, err := NewRegistry(provider, func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) })
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() { _ = registry.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	shipment := "awb_1"
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	order := domain.Order{
		ID:        "ord_int_1",
		UserID:    "user_1",
		PaymentID: "pay_1",
		Shipping:  domain.ShippingDetails{Name: "Asha", Line1: "1 Main St", City: "Pune", Country: "IN"},
		Totals: domain.CheckoutSummary{
			TotalPrice:    decimal.RequireFromString("1216"),
			TotalMRP:      decimal.RequireFromString("1700"),
			TotalDiscount: decimal.RequireFromString("484"),
			LineCount:     2,
		},
		Lines: []domain.OrderLine{
			{
				SecretOrderID: "ord_int_1-ven_1-1", OrderID: "ord_int_1", UserID: "user_1", ProductID: "p1", VendorID: "ven_1",
				Quantity: 1, UnitMRP: decimal.RequireFromString("1400"), LineMRP: decimal.RequireFromString("1400"),
				LinePrice: decimal.RequireFromString("1026"), Status: domain.OrderLineStatusPending, CreatedAt: now, UpdatedAt: now,
				ShipmentID: &shipment, Version: 1,
			},
			{
				SecretOrderID: "ord_int_1-ven_2-1", OrderID: "ord_int_1", UserID: "user_1", ProductID: "p2", VendorID: "ven_2",
				Quantity: 2, UnitMRP: decimal.RequireFromString("150"), LineMRP: decimal.RequireFromString("300"),
				LinePrice: decimal.RequireFromString("190"), Status: domain.OrderLineStatusPending, CreatedAt: now, UpdatedAt: now,
				Version: 1,
			},
		},
		CreatedAt: now,
	}

	if err := registry.Orders().Create(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	err = registry.Orders().Create(ctx, order)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict for duplicate order, got %v", err)
	}

	loaded, err := registry.Orders().FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if len(loaded.Lines) != 2 || !loaded.Totals.TotalPrice.Equal(order.Totals.TotalPrice) {
		t.Fatalf("unexpected order: %+v", loaded)
	}

	active, err := registry.OrderLines().ListActive(ctx, 10)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].SecretOrderID != "ord_int_1-ven_1-1" {
		t.Fatalf("expected only the shipped line to be active, got %+v", active)
	}

	const workers = 8
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, _, err := registry.OrderLines().Mutate(ctx, "ord_int_1-ven_1-1", func(line *domain.OrderLine) (bool, error) {
				line.TrackingHistory = append(line.TrackingHistory, domain.TrackingHistoryEntry{
					Fingerprint: "fp", Status: domain.OrderLineStatusShipped, RecordedAt: now,
				})
				return true, nil
			})
			if err != nil {
				t.Errorf("mutate: %v", err)
			}
		}()
	}
	wg.Wait()

	line, err := registry.OrderLines().FindBySecretID(ctx, "ord_int_1-ven_1-1")
	if err != nil {
		t.Fatalf("find line: %v", err)
	}
	if line.Version != 1+workers || len(line.TrackingHistory) != workers {
		t.Fatalf("expected %d serialized writes, got version %d history %d", workers, line.Version, len(line.TrackingHistory))
	}

	polled := now.Add(time.Hour)
	if err := registry.OrderLines().MarkReconciled(ctx, "ord_int_1-ven_1-1", polled); err != nil {
		t.Fatalf("mark reconciled: %v", err)
	}
	line, err = registry.OrderLines().FindBySecretID(ctx, "ord_int_1-ven_1-1")
	if err != nil {
		t.Fatalf("find line: %v", err)
	}
	if !line.LastReconciledAt.Equal(polled) || line.Version != 1+workers {
		t.Fatalf("expected poll stamp without a version bump, got %v version %d", line.LastReconciledAt, line.Version)
	}
	err = registry.OrderLines().MarkReconciled(ctx, "ord_int_1-missing", polled)
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found when stamping a missing line, got %v", err)
	}

	_, err = registry.Coupons().FindByCode(ctx, "missing")
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found coupon, got %v", err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skipf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}
